// Package gitlog lists the commits a given author made on a day, across all
// local branches of a repository.
package gitlog

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"daylog/internal/config"
	appLog "daylog/internal/log"
	"daylog/internal/model"
	"daylog/internal/provider"
)

const (
	Name = "Git"
	icon = "code-branch-symbolic"

	FieldRepoFolder   = "repo_folder"
	FieldCommitAuthor = "commit_author"
	FieldTrunkBranch  = "trunk_branch"
)

// Provider implements provider.Provider for local git repositories.
type Provider struct {
	// walks counts branch log walks; branches whose head predates the day
	// are skipped without one.
	walks atomic.Int64
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Name() string        { return Name }
func (p *Provider) DefaultIcon() string { return icon }

func (p *Provider) ConfiguredSources(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Git))
	for name := range cfg.Git {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Provider) Fields() []provider.Field {
	return []provider.Field{
		{Name: FieldRepoFolder, Kind: provider.FieldFolder},
		{Name: FieldCommitAuthor, Kind: provider.FieldCombo},
		{Name: FieldTrunkBranch, Kind: provider.FieldText, Default: "master"},
	}
}

func (p *Provider) Values(cfg *config.Config, source string) (map[string]string, bool) {
	c, ok := cfg.Git[source]
	if !ok {
		return nil, false
	}
	return map[string]string{
		FieldRepoFolder:   c.RepoFolder,
		FieldCommitAuthor: c.CommitAuthor,
		FieldTrunkBranch:  c.TrunkBranch,
	}, true
}

// FieldValues offers the distinct author names reachable from HEAD for the
// commit author combo. It walks the whole history, so it is slow on large
// repositories.
func (p *Provider) FieldValues(ctx context.Context, values map[string]string, field string) ([]string, error) {
	folder := values[FieldRepoFolder]
	if field != FieldCommitAuthor || folder == "" {
		return nil, nil
	}
	repo, err := git.PlainOpen(config.ExpandHome(folder))
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", folder, err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, err
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	seen := map[string]struct{}{}
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		seen[c.Author.Name] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	authors := make([]string, 0, len(seen))
	for a := range seen {
		authors = append(authors, a)
	}
	sort.Strings(authors)
	return authors, nil
}

type branch struct {
	name string
	hash plumbing.Hash
}

type branchCommit struct {
	branch string
	commit *object.Commit
}

func (p *Provider) FetchEvents(ctx context.Context, cfg *config.Config, source string, day model.Day) ([]model.Event, error) {
	c, ok := cfg.Git[source]
	if !ok {
		return nil, fmt.Errorf("%w: git source %q", provider.ErrNotFound, source)
	}
	repo, err := git.PlainOpen(config.ExpandHome(c.RepoFolder))
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", c.RepoFolder, err)
	}
	branches, err := localBranches(repo, c.TrunkBranch)
	if err != nil {
		return nil, err
	}

	// The trunk comes first, so a commit that is both on the trunk and on a
	// feature branch is reported once, on the trunk.
	seen := map[plumbing.Hash]struct{}{}
	var found []branchCommit
	for _, b := range branches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		commits, err := p.branchCommits(repo, b, c.CommitAuthor, day)
		if err != nil {
			return nil, err
		}
		for _, cm := range commits {
			if _, dup := seen[cm.Hash]; dup {
				continue
			}
			seen[cm.Hash] = struct{}{}
			found = append(found, branchCommit{branch: b.name, commit: cm})
		}
	}

	events := make([]model.Event, 0, len(found))
	for _, bc := range found {
		events = append(events, commitEvent(bc.commit, bc.branch, day))
	}
	model.SortByTime(events)
	return dedupAdjacent(events), nil
}

// localBranches returns the local branches sorted by name, with the trunk
// first. An empty trunk means "master", or "main" when there is no master.
func localBranches(repo *git.Repository, trunk string) ([]branch, error) {
	iter, err := repo.Branches()
	if err != nil {
		return nil, err
	}
	var out []branch
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		out = append(out, branch{name: ref.Name().Short(), hash: ref.Hash()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })

	if trunk == "" {
		trunk = "master"
		if !hasBranch(out, trunk) && hasBranch(out, "main") {
			trunk = "main"
		}
	}
	for i, b := range out {
		if b.name == trunk {
			copy(out[1:i+1], out[:i])
			out[0] = b
			break
		}
	}
	return out, nil
}

func hasBranch(bs []branch, name string) bool {
	for _, b := range bs {
		if b.name == name {
			return true
		}
	}
	return false
}

// branchCommits walks the branch newest first and stops at the first commit
// older than the day. Commits newer than the day are skipped.
func (p *Provider) branchCommits(repo *git.Repository, b branch, author string, day model.Day) ([]*object.Commit, error) {
	head, err := repo.CommitObject(b.hash)
	if err != nil {
		return nil, fmt.Errorf("branch %s: %w", b.name, err)
	}
	start, end := day.Start(), day.End()
	if head.Committer.When.Before(start) {
		return nil, nil
	}

	p.walks.Add(1)
	iter, err := repo.Log(&git.LogOptions{From: b.hash, Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, fmt.Errorf("branch %s: %w", b.name, err)
	}
	defer iter.Close()

	var commits []*object.Commit
	err = iter.ForEach(func(c *object.Commit) error {
		when := c.Committer.When
		if when.Before(start) {
			return storer.ErrStop
		}
		if when.Before(end) && c.Author.Name == author {
			commits = append(commits, c)
		}
		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return nil, fmt.Errorf("branch %s: %w", b.name, err)
	}
	return commits, nil
}

func commitEvent(c *object.Commit, branchName string, day model.Day) model.Event {
	message := strings.TrimRight(c.Message, "\n")
	summary, _, _ := strings.Cut(message, "\n")

	body := html.EscapeString(branchName)
	var extra string
	if patch := firstParentPatch(c); patch != nil {
		body = `<span font-family="monospace">` + body + "\n\n" + html.EscapeString(diffstat(patch.Stats())) + "</span>"
		extra = filesRoot(touchedFiles(patch))
	}

	return model.Event{
		SourceLabel:  Name,
		Icon:         icon,
		Time:         day.TimeOf(c.Committer.When),
		Title:        summary,
		Header:       message,
		Body:         model.Markup(body, false),
		ExtraDetails: extra,
	}
}

// firstParentPatch returns the diff against the only parent, or nil for
// merge and root commits.
func firstParentPatch(c *object.Commit) *object.Patch {
	if c.NumParents() != 1 {
		return nil
	}
	parent, err := c.Parent(0)
	if err != nil {
		appLog.Debug("git parent lookup failed", "commit", c.Hash.String(), "error", err.Error())
		return nil
	}
	patch, err := parent.Patch(c)
	if err != nil {
		appLog.Debug("git diff failed", "commit", c.Hash.String(), "error", err.Error())
		return nil
	}
	return patch
}

func diffstat(stats object.FileStats) string {
	var adds, dels int
	for _, s := range stats {
		adds += s.Addition
		dels += s.Deletion
	}
	return fmt.Sprintf("%s %s changed, %s(+), %s(-)\n", stats.String(),
		plural(len(stats), "file"), plural(adds, "insertion"), plural(dels, "deletion"))
}

// plural formats n with noun, adding an "s" unless n is 1, as git does.
func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func touchedFiles(patch *object.Patch) []string {
	var paths []string
	for _, fp := range patch.FilePatches() {
		from, to := fp.Files()
		if to != nil {
			paths = append(paths, to.Path())
		}
		if from != nil {
			paths = append(paths, from.Path())
		}
	}
	return paths
}

// filesRoot is the longest common run of leading path components.
func filesRoot(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	split := make([][]string, len(paths))
	shortest := -1
	for i, p := range paths {
		split[i] = strings.Split(p, "/")
		if shortest < 0 || len(split[i]) < shortest {
			shortest = len(split[i])
		}
	}
	var common []string
	for idx := 0; idx < shortest; idx++ {
		part := split[0][idx]
		for _, s := range split[1:] {
			if s[idx] != part {
				return strings.Join(common, "/")
			}
		}
		common = append(common, part)
	}
	return strings.Join(common, "/")
}

// dedupAdjacent drops an event equal in time, header and title to the one
// before it: the same change picked onto two branches.
func dedupAdjacent(events []model.Event) []model.Event {
	out := events[:0]
	for i, e := range events {
		if i > 0 {
			prev := out[len(out)-1]
			if prev.Time == e.Time && prev.Header == e.Header && prev.Title == e.Title {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}
