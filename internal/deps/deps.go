// Package deps fetches the shared headers and support libraries every module
// links against, caching the clones in a user-level storage directory.
package deps

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/lume-build/lume/internal/msg"
)

var repoShortcuts = map[string]string{
	"gh:": "https://github.com/",
	"gl:": "https://gitlab.com/",
	"bb:": "https://bitbucket.org/",
	"sr:": "https://sr.ht/",
	"cb:": "https://codeberg.org/",
}

var errEmptyRepo = errors.New("empty repository reference")

// Fetcher resolves the header and library search directories, cloning the
// configured repositories on first use. Safe for use from concurrent module
// builds.
type Fetcher struct {
	storage       string
	headersRepo   string
	librariesRepo string

	mu sync.Mutex
}

func NewFetcher(storage, headersRepo, librariesRepo string) *Fetcher {
	return &Fetcher{storage: storage, headersRepo: headersRepo, librariesRepo: librariesRepo}
}

// DefaultStorage returns the per-user cache directory for fetched deps.
func DefaultStorage() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, "lume"), nil
}

// HeaderDir returns the local path of the shared headers, fetching them if
// missing.
func (f *Fetcher) HeaderDir() (string, error) {
	return f.ensure("headers", f.headersRepo)
}

// LibraryDir returns the local path of the shared support libraries, fetching
// them if missing.
func (f *Fetcher) LibraryDir() (string, error) {
	return f.ensure("lib", f.librariesRepo)
}

func (f *Fetcher) ensure(name, repo string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Join(f.storage, name)
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return dir, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	fmt.Printf("  %s %s\n", color.HiGreenString("Fetching"), name)
	if err := cloneRepo(repo, dir); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to fetch %s from %q: %w", name, repo, err)
	}
	return dir, nil
}

type gitURL struct {
	cleanURL    string
	branch      string
	commitOrTag string
}

// someone/something@master#0.1.0
// someone/something@feature-branch#12345abc
// someone/something#12345abc
func parseGitURL(rawURL string) (res gitURL) {
	parts := strings.SplitN(rawURL, "#", 2)
	baseURL := parts[0]
	if len(parts) == 2 {
		res.commitOrTag = parts[1]
	}

	parts = strings.SplitN(baseURL, "@", 2)
	res.cleanURL = parts[0]
	if len(parts) == 2 {
		res.branch = parts[1]
	}

	if !strings.HasSuffix(res.cleanURL, ".git") {
		res.cleanURL += ".git"
	}

	return
}

// cloneRepo clones a repository reference (shortcut-prefixed or a full URL)
// into the given directory.
func cloneRepo(repo, toWhere string) error {
	if repo == "" {
		return errEmptyRepo
	}
	for shortcut, url := range repoShortcuts {
		if strings.HasPrefix(repo, shortcut) {
			repo = url + repo[len(shortcut):]
			break
		}
	}

	parsedURL := parseGitURL(repo)

	cloneOptions := &git.CloneOptions{
		URL:               parsedURL.cleanURL,
		Progress:          &msg.IndentWriter{Indent: "    ", W: os.Stdout},
		RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
	}

	if parsedURL.commitOrTag == "" {
		cloneOptions.Depth = 1 // shallow clone of the latest commit is enough
	}

	if parsedURL.branch != "" {
		cloneOptions.ReferenceName = plumbing.NewBranchReferenceName(parsedURL.branch)
		cloneOptions.SingleBranch = true
	}

	repoHandle, err := git.PlainClone(toWhere, cloneOptions)
	if err != nil {
		return err
	}

	if parsedURL.commitOrTag != "" {
		w, err := repoHandle.Worktree()
		if err != nil {
			return fmt.Errorf("could not get worktree: %w", err)
		}

		revision := parsedURL.commitOrTag
		hash, err := repoHandle.ResolveRevision(plumbing.Revision(revision))
		if err != nil {
			return fmt.Errorf("could not resolve revision `%s`: %w", revision, err)
		}

		err = w.Checkout(&git.CheckoutOptions{
			Hash:  *hash,
			Force: true,
		})
		if err != nil {
			return fmt.Errorf("failed to checkout `%s`: %w", revision, err)
		}
	}

	return nil
}
