// Package service answers the four queries of the read surface:
// directory, versions, object and metadata. Each query takes an explicit
// output format.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"verso/internal/changeset"
	"verso/internal/errors"
	"verso/internal/history"
	"verso/internal/index"
	"verso/internal/object"
	"verso/internal/query"
	"verso/internal/snapshot"
	"verso/internal/store"

	"go.uber.org/zap"
)

// Format selects between the plain and structured rendering of a query.
type Format int

const (
	FormatPlain Format = iota
	FormatJSON
)

const (
	ContentTypePlain = "text/plain; charset=utf-8"
	ContentTypeJSON  = "application/json"

	// ImmutableCacheControl is sent with plain object bodies, which never
	// change for a given id.
	ImmutableCacheControl = "max-age=3600, stale-while-revalidate=86400, immutable"

	DirectoryHeader = "object,time,name,length,indices\n"
	timeLayout      = "2006-01-02 15:04:05"
)

// Output is a rendered query result.
type Output struct {
	ContentType  string
	CacheControl string
	Body         []byte
}

// Routes names the three reserved top-level routes.
type Routes struct {
	Object   string `json:"object" yaml:"object"`
	Versions string `json:"versions" yaml:"versions"`
	Meta     string `json:"meta" yaml:"meta"`
}

func DefaultRoutes() Routes {
	return Routes{Object: "object", Versions: "versions", Meta: "meta"}
}

type Options struct {
	Routes  Routes
	Mirrors map[string]string
	Logger  *zap.Logger
}

// Service answers queries against the current head of a repository.
type Service struct {
	repo    store.Repository
	snaps   *snapshot.Cache
	changes *changeset.Engine
	objects *object.Accessor
	routes  Routes
	mirrors map[string]string
	logger  *zap.Logger
}

// New returns a service over repo, which should resolve ids across mounts.
func New(repo store.Repository, snaps *snapshot.Cache, changes *changeset.Engine, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	routes := opts.Routes
	if routes == (Routes{}) {
		routes = DefaultRoutes()
	}
	mirrors := opts.Mirrors
	if mirrors == nil {
		mirrors = map[string]string{}
	}
	return &Service{
		repo:    repo,
		snaps:   snaps,
		changes: changes,
		objects: object.New(repo),
		routes:  routes,
		mirrors: mirrors,
		logger:  logger,
	}
}

func (s *Service) Routes() Routes {
	return s.routes
}

func (s *Service) current(ctx context.Context) (*snapshot.Snapshot, error) {
	return s.snaps.Current(ctx, s.repo)
}

func jsonOutput(v any) (*Output, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	return &Output{ContentType: ContentTypeJSON, Body: body}, nil
}

// Listing returns every version entry, newest commit first.
func (s *Service) Listing(ctx context.Context) ([]history.VersionEntry, error) {
	snap, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Versions.NewestFirst(), nil
}

// Directory renders the listing as CSV rows or a JSON array.
func (s *Service) Directory(ctx context.Context, f Format) (*Output, error) {
	entries, err := s.Listing(ctx)
	if err != nil {
		return nil, err
	}
	if f == FormatJSON {
		return jsonOutput(entries)
	}

	var b strings.Builder
	b.WriteString(DirectoryHeader)
	for _, e := range entries {
		fmt.Fprintf(&b, "%s,%d,%s,%d,%s\n", e.ContentID, e.Time, e.Path, e.Length, e.Encoding)
	}
	return &Output{ContentType: ContentTypePlain, Body: []byte(b.String())}, nil
}

// VersionRecord is one version of a path.
type VersionRecord struct {
	ID       string `json:"id"`
	CommitID string `json:"commit_id"`
	Time     int64  `json:"time"`
	Message  string `json:"message"`
}

type VersionList struct {
	Name     string          `json:"name"`
	Versions []VersionRecord `json:"versions"`
}

// VersionList resolves a versions path, with its optional time range,
// to the matching versions newest first.
func (s *Service) VersionList(ctx context.Context, p string) (*VersionList, error) {
	snap, err := s.current(ctx)
	if err != nil {
		return nil, err
	}

	q := query.ParseVersions(p)
	chain, ok := snap.Paths[q.Path]
	if !ok {
		return nil, errors.NotFound("Not Found")
	}
	chain, err = q.Filter(chain)
	if err != nil {
		return nil, err
	}

	list := &VersionList{Name: q.Path, Versions: make([]VersionRecord, 0, len(chain))}
	for _, e := range chain {
		list.Versions = append(list.Versions, VersionRecord{
			ID:       e.ContentID,
			CommitID: e.CommitID,
			Time:     e.Time,
			Message:  e.Message,
		})
	}
	return list, nil
}

// Versions renders a version list as newline-separated ids or JSON.
func (s *Service) Versions(ctx context.Context, p string, f Format) (*Output, error) {
	list, err := s.VersionList(ctx, p)
	if err != nil {
		return nil, err
	}
	if f == FormatJSON {
		return jsonOutput(list)
	}

	ids := make([]string, 0, len(list.Versions))
	for _, v := range list.Versions {
		ids = append(ids, v.ID)
	}
	return &Output{ContentType: ContentTypePlain, Body: []byte(strings.Join(ids, "\n"))}, nil
}

// Envelope is the structured form of an object.
type Envelope struct {
	ID              string            `json:"id"`
	Names           []index.Name      `json:"names"`
	Length          int64             `json:"length"`
	Indices         store.Encoding    `json:"indices"`
	Window          object.Bounds     `json:"window"`
	PreviousVersion changeset.Version `json:"previous_version"`
	NextVersion     changeset.Version `json:"next_version"`
	Body            string            `json:"body,omitempty"`
}

// Envelope reads an object and describes where it sits in history.
func (s *Service) Envelope(ctx context.Context, id string, w query.Window, nobody bool) (*Envelope, error) {
	res, err := s.objects.Read(ctx, id, w, nobody)
	if err != nil {
		return nil, err
	}
	snap, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	cs, err := s.changes.Changeset(ctx, snap, res.ID)
	if err != nil {
		return nil, errors.Fatal(fmt.Sprintf("changeset for %s", res.ID), err)
	}

	env := &Envelope{
		ID:      res.ID,
		Names:   cs.Names,
		Length:  res.Length,
		Indices: res.Encoding,
		Window:  res.Window,
	}
	if env.Names == nil {
		env.Names = []index.Name{}
	}
	if cs.Previous != nil {
		env.PreviousVersion = *cs.Previous
	}
	if cs.Next != nil {
		env.NextVersion = *cs.Next
	}
	if !res.Binary && len(res.Body) > 0 {
		env.Body = string(res.Body)
	}
	return env, nil
}

// Object renders an object as its raw sliced body or as an Envelope.
func (s *Service) Object(ctx context.Context, id string, w query.Window, nobody bool, f Format) (*Output, error) {
	if f == FormatJSON {
		env, err := s.Envelope(ctx, id, w, nobody)
		if err != nil {
			return nil, err
		}
		return jsonOutput(env)
	}

	res, err := s.objects.Read(ctx, id, w, nobody)
	if err != nil {
		return nil, err
	}
	return &Output{
		ContentType:  ContentTypePlain,
		CacheControl: ImmutableCacheControl,
		Body:         res.Body,
	}, nil
}

// Metadata summarises the repository.
type Metadata struct {
	Site        string            `json:"site" yaml:"site"`
	Origin      string            `json:"origin" yaml:"origin"`
	Head        string            `json:"head" yaml:"head"`
	LastUpdated string            `json:"last_updated" yaml:"last_updated"`
	ContentID   string            `json:"content_id" yaml:"content_id"`
	Mirrors     map[string]string `json:"mirrors" yaml:"mirrors"`
	Meta        string            `json:"meta" yaml:"meta"`
	Object      string            `json:"object" yaml:"object"`
	Versions    string            `json:"versions" yaml:"versions"`
}

// Metadata describes the repository served at site.
func (s *Service) Metadata(ctx context.Context, site string) (*Metadata, error) {
	info, err := s.repo.Info(ctx)
	if err != nil {
		return nil, errors.Fatal("reading repository info", err)
	}
	return &Metadata{
		Site:        site,
		Origin:      info.Origin,
		Head:        info.Head,
		LastUpdated: time.Unix(info.HeadTime, 0).Format(timeLayout),
		ContentID:   info.ContentID,
		Mirrors:     s.mirrors,
		Meta:        "/" + s.routes.Meta,
		Object:      "/" + s.routes.Object,
		Versions:    "/" + s.routes.Versions,
	}, nil
}
