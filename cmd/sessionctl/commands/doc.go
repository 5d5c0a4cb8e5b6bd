// Package commands defines the sessionctl CLI, a terminal storefront client
// that keeps one session against the user service.
//
// Commands
//
//   - register     Create an account and sign in
//   - login        Sign in with email and password
//   - logout       Revoke the session on the server and forget it locally
//   - whoami       Resolve the saved session and print the signed-in user
//   - refresh      Renew the access credential through the refresh cookie
//   - get          Send an authenticated GET and print the response body
//   - audit tail   Follow session and account events from Kafka
//
// # Session file
//
// The access credential and the refresh cookie are saved to a 0600 JSON file
// after every command and restored before the next, so a run of sessionctl
// behaves like a page reload in a browser tab. A session the server ends
// removes the file.
package commands
