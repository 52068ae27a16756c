// Package gallery looks modules up in NuGet v2 (OData) repositories such as
// the PowerShell Gallery.
//
// Lookup flow:
//  1. FindPackagesById (latest) or Packages(Id,Version) (exact) against the
//     repository feed
//  2. Parse the Atom entry for version + dependency string
//  3. Dependency strings ("Name:[1.0]:|Other:2.0:") become DependencySpecs
//
// Package downloads follow the feed's /package/{name}/{version} convention.
package gallery

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultRepositories maps the repository names accepted on the command line
// to their feed URLs.
var DefaultRepositories = map[string]string{
	"PSGallery": "https://www.powershellgallery.com/api/v2",
}

// NotFoundError means the repository has no package matching the query.
type NotFoundError struct {
	Name       string
	Version    string // empty when the latest version was requested
	Repository string
}

func (e *NotFoundError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("module %s version %s not found in %s", e.Name, e.Version, e.Repository)
	}
	return fmt.Sprintf("module %s not found in %s", e.Name, e.Repository)
}

// Client queries one or more module repositories.
type Client struct {
	repos  map[string]string
	client *http.Client
}

// NewClient creates a gallery client over the given name -> feed URL map.
// A nil map falls back to DefaultRepositories.
func NewClient(repos map[string]string) *Client {
	if repos == nil {
		repos = DefaultRepositories
	}
	return &Client{
		repos: repos,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// feed and entry mirror the OData Atom response. Namespace prefixes are
// ignored; encoding/xml matches on local names.
type feedXML struct {
	Entries []entryXML `xml:"entry"`
}

type entryXML struct {
	Title      string        `xml:"title"`
	Properties propertiesXML `xml:"properties"`
}

type propertiesXML struct {
	Version         string `xml:"Version"`
	Dependencies    string `xml:"Dependencies"`
	IsLatestVersion string `xml:"IsLatestVersion"`
}

// FindModule resolves a module name to its descriptor. With exactVersion
// empty, the repository's latest version is returned.
func (c *Client) FindModule(ctx context.Context, name, repository, exactVersion string) (ModuleDescriptor, error) {
	base, ok := c.repos[repository]
	if !ok {
		return ModuleDescriptor{}, fmt.Errorf("unknown repository %q", repository)
	}

	var query string
	if exactVersion != "" {
		query = fmt.Sprintf("%s/Packages(Id='%s',Version='%s')",
			base, url.PathEscape(name), url.PathEscape(exactVersion))
	} else {
		query = fmt.Sprintf("%s/FindPackagesById()?id='%s'&$filter=IsLatestVersion",
			base, url.QueryEscape(name))
	}

	body, status, err := c.get(ctx, query)
	if err != nil {
		return ModuleDescriptor{}, fmt.Errorf("query %s in %s: %w", name, repository, err)
	}
	if status == http.StatusNotFound {
		return ModuleDescriptor{}, &NotFoundError{Name: name, Version: exactVersion, Repository: repository}
	}
	if status != http.StatusOK {
		return ModuleDescriptor{}, fmt.Errorf("query %s in %s: HTTP %d", name, repository, status)
	}

	entry, ok, err := pickEntry(body, exactVersion != "")
	if err != nil {
		return ModuleDescriptor{}, fmt.Errorf("parse feed for %s: %w", name, err)
	}
	if !ok {
		return ModuleDescriptor{}, &NotFoundError{Name: name, Version: exactVersion, Repository: repository}
	}

	desc := ModuleDescriptor{
		Name:         entry.Title,
		Version:      strings.TrimSpace(entry.Properties.Version),
		Repository:   repository,
		Dependencies: ParseDependencyString(entry.Properties.Dependencies),
	}
	if desc.Name == "" {
		desc.Name = name
	}
	if desc.Version == "" {
		return ModuleDescriptor{}, &NotFoundError{Name: name, Version: exactVersion, Repository: repository}
	}
	return desc, nil
}

// ContentURL returns the deterministic download location for a package.
func (c *Client) ContentURL(repository, name, version string) (string, error) {
	base, ok := c.repos[repository]
	if !ok {
		return "", fmt.Errorf("unknown repository %q", repository)
	}
	return fmt.Sprintf("%s/package/%s/%s", base, url.PathEscape(name), url.PathEscape(version)), nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/atom+xml")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// pickEntry extracts the relevant Atom entry. Exact lookups return a bare
// <entry> document; latest lookups return a <feed> whose entries are
// filtered to IsLatestVersion (stale feeds occasionally include more, so the
// flag is re-checked here).
func pickEntry(body []byte, exact bool) (entryXML, bool, error) {
	if exact {
		var entry entryXML
		if err := xml.Unmarshal(body, &entry); err != nil {
			return entryXML{}, false, err
		}
		return entry, entry.Properties.Version != "", nil
	}

	var feed feedXML
	if err := xml.Unmarshal(body, &feed); err != nil {
		return entryXML{}, false, err
	}
	for _, e := range feed.Entries {
		if strings.EqualFold(strings.TrimSpace(e.Properties.IsLatestVersion), "true") {
			return e, true, nil
		}
	}
	if len(feed.Entries) > 0 {
		return feed.Entries[len(feed.Entries)-1], true, nil
	}
	return entryXML{}, false, nil
}
