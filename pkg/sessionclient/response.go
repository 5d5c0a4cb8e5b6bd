package sessionclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/utafrali/storefront/pkg/httputil"
)

// Response is a 2xx reply with its body fully read.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// IsJSON reports whether the response declares a JSON media type.
func (r *Response) IsJSON() bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// Decode unmarshals the raw JSON body into v.
func (r *Response) Decode(v any) error {
	if !r.IsJSON() {
		return fmt.Errorf("decode response: content type %q is not JSON", r.Header.Get("Content-Type"))
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// DecodeData unwraps the {"data": ...} envelope into v.
func (r *Response) DecodeData(v any) error {
	if !r.IsJSON() {
		return fmt.Errorf("decode response: content type %q is not JSON", r.Header.Get("Content-Type"))
	}
	return httputil.DecodeData(bytes.NewReader(r.Body), v)
}
