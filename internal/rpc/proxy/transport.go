package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

func newJSONPostRequest(ctx context.Context, url string, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func decodeJSON(r io.Reader, target any) error {
	return json.NewDecoder(r).Decode(target)
}
