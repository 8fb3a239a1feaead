package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"supashowcase/pkg/domain"
)

const (
	defaultSignedURLExpiry = 120
	maxSignedURLExpiry     = 3600
)

// HelloForm is the hello-world function input.
type HelloForm struct {
	Message string `json:"message"`
	Name    string `json:"name"`
}

// HelloReply is the hello-world function output.
type HelloReply struct {
	Echo       string `json:"echo"`
	Function   string `json:"function"`
	Greeting   string `json:"greeting"`
	OK         bool   `json:"ok"`
	ReceivedAt string `json:"received_at"`
}

// Hello invokes hello-world, as the viewer when one is given.
func (a *App) Hello(ctx context.Context, v *Viewer, f HelloForm) (HelloReply, error) {
	client := a.platform.WithAccessToken("")
	if v != nil {
		client = a.client(*v)
	}
	var out HelloReply
	if err := client.Invoke(ctx, "hello-world", f, &out); err != nil {
		return HelloReply{}, err
	}
	return out, nil
}

// SignedURLForm is the raw signed-url form input.
type SignedURLForm struct {
	Bucket    string `json:"bucket"`
	Path      string `json:"path"`
	ExpiresIn string `json:"expiresIn"`
}

// SignedURLRequest is the validated signed-url function input.
type SignedURLRequest struct {
	Bucket    string `json:"bucket"`
	Path      string `json:"path"`
	ExpiresIn int    `json:"expiresIn"`
}

// SignedURLReply is the signed-url function output.
type SignedURLReply struct {
	Bucket    string `json:"bucket"`
	ExpiresIn int    `json:"expiresIn"`
	OK        bool   `json:"ok"`
	Path      string `json:"path"`
	SignedURL string `json:"signedUrl"`
}

// ParseSignedURLForm applies the checks the function itself makes, so bad
// input is reported without a request.
func ParseSignedURLForm(v Viewer, f SignedURLForm) (SignedURLRequest, error) {
	bucket := strings.TrimSpace(f.Bucket)
	if bucket == "" {
		return SignedURLRequest{}, domain.Invalid("bucket", "bucket is required.")
	}
	path := strings.TrimLeft(strings.TrimSpace(f.Path), "/")
	if path == "" {
		return SignedURLRequest{}, domain.Invalid("path", "path is required.")
	}
	prefix := v.ID + "/"
	if !strings.HasPrefix(path, prefix) {
		return SignedURLRequest{}, domain.Invalid("path", fmt.Sprintf("path must start with %q to keep objects user-scoped.", prefix))
	}
	expires := defaultSignedURLExpiry
	if raw := strings.TrimSpace(f.ExpiresIn); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSignedURLExpiry {
			return SignedURLRequest{}, domain.Invalid("expiresIn", fmt.Sprintf("expiresIn must be an integer between 1 and %d.", maxSignedURLExpiry))
		}
		expires = n
	}
	return SignedURLRequest{Bucket: bucket, Path: path, ExpiresIn: expires}, nil
}

// SignedURL invokes signed-url as the viewer.
func (a *App) SignedURL(ctx context.Context, v Viewer, f SignedURLForm) (SignedURLReply, error) {
	req, err := ParseSignedURLForm(v, f)
	if err != nil {
		return SignedURLReply{}, err
	}
	var out SignedURLReply
	if err := a.client(v).Invoke(ctx, "signed-url", req, &out); err != nil {
		return SignedURLReply{}, err
	}
	return out, nil
}
