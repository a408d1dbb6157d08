package host

import (
	"context"
	"fmt"
	"sync"
)

// Mock is an in-memory Client for tests. Behavior is driven by the
// exported maps and overridable function fields; calls are recorded.
type Mock struct {
	mu sync.Mutex

	Diffs    map[string]string // sha -> diff
	PRDiffs  map[int]string    // pr number -> diff
	Commits  map[string]*CommitInfo
	PRs      map[int]*PRInfo
	Branches map[string]string // branch -> head sha
	Files    map[string]string // "branch/path" -> content

	NextPRNumber    int
	NextIssueNumber int

	// Call log, in order. Entries look like "put_file README.md".
	Calls []string

	// Per-op error injection, keyed by op name.
	Errs map[string]error
}

// NewMock returns an empty mock ready to use.
func NewMock() *Mock {
	return &Mock{
		Diffs:           map[string]string{},
		PRDiffs:         map[int]string{},
		Commits:         map[string]*CommitInfo{},
		PRs:             map[int]*PRInfo{},
		Branches:        map[string]string{},
		Files:           map[string]string{},
		Errs:            map[string]error{},
		NextPRNumber:    100,
		NextIssueNumber: 500,
	}
}

func (m *Mock) record(op string, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := op
	if detail != "" {
		entry = op + " " + detail
	}
	m.Calls = append(m.Calls, entry)
	return m.Errs[op]
}

// CallLog returns a copy of the recorded calls.
func (m *Mock) CallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Calls))
	copy(out, m.Calls)
	return out
}

func (m *Mock) CommitDiff(ctx context.Context, sha string) (string, error) {
	if err := m.record("commit_diff", sha); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	diff, ok := m.Diffs[sha]
	if !ok {
		return "", &Error{Kind: KindNotFound, Op: "commit_diff", Err: fmt.Errorf("no diff for %s", sha)}
	}
	return diff, nil
}

func (m *Mock) Commit(ctx context.Context, sha string) (*CommitInfo, error) {
	if err := m.record("commit", sha); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.Commits[sha]; ok {
		return c, nil
	}
	return &CommitInfo{SHA: sha, Author: "tester", Message: "test commit"}, nil
}

func (m *Mock) BranchHead(ctx context.Context, branch string) (string, error) {
	if err := m.record("branch_head", branch); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sha, ok := m.Branches[branch]
	if !ok {
		return "", &Error{Kind: KindNotFound, Op: "branch_head", Err: fmt.Errorf("no branch %s", branch)}
	}
	return sha, nil
}

func (m *Mock) PRDiff(ctx context.Context, number int) (string, error) {
	if err := m.record("pr_diff", fmt.Sprint(number)); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	diff, ok := m.PRDiffs[number]
	if !ok {
		return "", &Error{Kind: KindNotFound, Op: "pr_diff", Err: fmt.Errorf("no diff for pr %d", number)}
	}
	return diff, nil
}

func (m *Mock) PR(ctx context.Context, number int) (*PRInfo, error) {
	if err := m.record("pr", fmt.Sprint(number)); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.PRs[number]
	if !ok {
		return nil, &Error{Kind: KindNotFound, Op: "pr", Err: fmt.Errorf("no pr %d", number)}
	}
	return pr, nil
}

func (m *Mock) FindPRByHead(ctx context.Context, branch string) (*PRInfo, error) {
	if err := m.record("find_pr_by_head", branch); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pr := range m.PRs {
		if pr.HeadBranch == branch && pr.State == "open" {
			return pr, nil
		}
	}
	return nil, nil
}

func (m *Mock) ListOpenPRs(ctx context.Context) ([]*PRInfo, error) {
	if err := m.record("list_open_prs", ""); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*PRInfo
	for _, pr := range m.PRs {
		if pr.State == "open" {
			out = append(out, pr)
		}
	}
	return out, nil
}

func (m *Mock) ListIssues(ctx context.Context, label string) ([]*IssueInfo, error) {
	if err := m.record("list_issues", label); err != nil {
		return nil, err
	}
	return nil, nil
}

func (m *Mock) PostCommitComment(ctx context.Context, sha, body string) error {
	return m.record("post_commit_comment", sha)
}

func (m *Mock) PostPRReview(ctx context.Context, number int, body string) error {
	return m.record("post_pr_review", fmt.Sprint(number))
}

func (m *Mock) PostPRComment(ctx context.Context, number int, body string) error {
	return m.record("post_pr_comment", fmt.Sprint(number))
}

func (m *Mock) CreateIssue(ctx context.Context, title, body string) (int, error) {
	if err := m.record("create_issue", title); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.NextIssueNumber++
	return m.NextIssueNumber, nil
}

func (m *Mock) EnsureBranch(ctx context.Context, name, sha string) error {
	if err := m.record("ensure_branch", name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Branches[name] = sha
	return nil
}

func (m *Mock) GetFile(ctx context.Context, path, ref string) (string, error) {
	if err := m.record("get_file", path); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if content, ok := m.Files[ref+"/"+path]; ok {
		return content, nil
	}
	if content, ok := m.Files[path]; ok && ref == "" {
		return content, nil
	}
	return "", &Error{Kind: KindNotFound, Op: "get_file", Err: fmt.Errorf("no file %s at %s", path, ref)}
}

func (m *Mock) PutFile(ctx context.Context, branch, path, content, message string) error {
	if err := m.record("put_file", path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Files[branch+"/"+path] = content
	return nil
}

func (m *Mock) OpenPR(ctx context.Context, head, base, title, body string) (int, error) {
	if err := m.record("open_pr", head); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.NextPRNumber++
	m.PRs[m.NextPRNumber] = &PRInfo{
		Number:     m.NextPRNumber,
		Title:      title,
		Body:       body,
		State:      "open",
		HeadBranch: head,
		BaseBranch: base,
	}
	return m.NextPRNumber, nil
}

func (m *Mock) UpdatePR(ctx context.Context, number int, title, body string) error {
	if err := m.record("update_pr", fmt.Sprint(number)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if pr, ok := m.PRs[number]; ok {
		pr.Title = title
		pr.Body = body
	}
	return nil
}

var _ Client = (*Mock)(nil)
