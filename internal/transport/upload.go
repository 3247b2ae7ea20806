package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	apperrors "github.com/spec-kit/sorting-kiosk/pkg/util/errorutil"
)

// UploadRequest is a file sent as multipart form data.
type UploadRequest struct {
	Name        string
	FieldName   string
	FileName    string
	ContentType string
	Body        io.Reader
	Fields      map[string]string
}

// Upload posts req to the upload endpoint with the same headers and
// interception as point operations.
func (r *Router) Upload(ctx context.Context, req UploadRequest) (*Result, error) {
	var data json.RawMessage
	err := r.instrument(ctx, req.Name, ChannelUpload, func(ctx context.Context) error {
		body, contentType, err := encodeMultipart(req)
		if err != nil {
			return &apperrors.GenericFailure{Message: fmt.Sprintf("encode upload: %v", err)}
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.uploadURL, body)
		if err != nil {
			return &apperrors.GenericFailure{Message: fmt.Sprintf("build upload: %v", err)}
		}
		httpReq.Header.Set("Content-Type", contentType)
		httpReq.Header.Set("Accept", "application/json")
		r.decorate(ctx, httpReq)

		data, err = r.send(httpReq)
		return err
	})
	if err != nil {
		return nil, r.intercept(ctx, req.Name, err)
	}
	return &Result{Data: data}, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func encodeMultipart(req UploadRequest) (*bytes.Buffer, string, error) {
	if req.Body == nil {
		return nil, "", fmt.Errorf("upload %q has no body", req.Name)
	}
	field := req.FieldName
	if field == "" {
		field = "file"
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for k, v := range req.Fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(req.FileName)))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, req.Body); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf, mw.FormDataContentType(), nil
}
