package main

import (
	"context"

	"verso/client"
	"verso/internal/history"
	"verso/internal/query"
	"verso/internal/server"
	"verso/internal/service"
)

// backend answers CLI queries either from a running server or from a
// repository opened in process.
type backend interface {
	Metadata(ctx context.Context) (*service.Metadata, error)
	Directory(ctx context.Context) ([]history.VersionEntry, error)
	Versions(ctx context.Context, path string, r client.Range) (*service.VersionList, error)
	Object(ctx context.Context, id string, r client.Range) ([]byte, error)
	Envelope(ctx context.Context, id string, withBody bool) (*service.Envelope, error)
}

var _ backend = (*client.Client)(nil)

type localBackend struct {
	srv *server.Server
	svc *service.Service
}

func newLocalBackend(srv *server.Server) *localBackend {
	return &localBackend{srv: srv, svc: srv.Service()}
}

func (b *localBackend) Metadata(ctx context.Context) (*service.Metadata, error) {
	return b.svc.Metadata(ctx, "")
}

func (b *localBackend) Directory(ctx context.Context) ([]history.VersionEntry, error) {
	return b.svc.Listing(ctx)
}

func (b *localBackend) Versions(ctx context.Context, path string, r client.Range) (*service.VersionList, error) {
	return b.svc.VersionList(ctx, path+r.Suffix())
}

func (b *localBackend) Object(ctx context.Context, id string, r client.Range) ([]byte, error) {
	out, err := b.svc.Object(ctx, id, query.Window{Start: r.Start, End: r.End}, false, service.FormatPlain)
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func (b *localBackend) Envelope(ctx context.Context, id string, withBody bool) (*service.Envelope, error) {
	return b.svc.Envelope(ctx, id, query.Window{}, !withBody)
}

func (b *localBackend) Close() error {
	return b.srv.Close()
}
