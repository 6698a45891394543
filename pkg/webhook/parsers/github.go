package parsers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"

	"github.com/bbva/deeptracy-api/internal/models"
)

const headsPrefix = "refs/heads/"

// GitHubParser parses GitHub push event payloads
type GitHubParser struct {
	sshAccount string
}

// NewGitHubParser creates a GitHub parser. With an empty sshAccount the
// repository's own ssh_url is used as the Hook remote.
func NewGitHubParser(sshAccount string) *GitHubParser {
	return &GitHubParser{
		sshAccount: sshAccount,
	}
}

// Provider returns the provider this parser handles
func (p *GitHubParser) Provider() models.Provider {
	return models.ProviderGitHub
}

// Detect matches payloads carrying repository.url
func (p *GitHubParser) Detect(payload []byte) bool {
	_, _, _, err := jsonparser.Get(payload, "repository", "url")
	return err == nil
}

// Parse extracts the Hook of the pushed branch from a GitHub push event.
// Tag pushes and branch deletions yield no Hook.
func (p *GitHubParser) Parse(payload []byte) ([]*models.Hook, error) {
	if err := requireKeys(models.ProviderGitHub, payload, "ref", "repository"); err != nil {
		return nil, err
	}

	var event GitHubPushEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, &PayloadError{Provider: models.ProviderGitHub, Field: "body", Reason: fmt.Sprintf("is not valid: %v", err)}
	}

	hooks := newHookSet(models.ProviderGitHub)

	if !strings.HasPrefix(event.Ref, headsPrefix) {
		return hooks.list(), nil
	}
	branch := strings.TrimPrefix(event.Ref, headsPrefix)
	if branch == "" || event.Deleted || isZeroSHA(event.After) {
		return hooks.list(), nil
	}

	repo := event.Repository
	if repo.Name == "" {
		return nil, missingField(models.ProviderGitHub, "repository.name")
	}

	// Creating a branch reports an all-zero before
	knownBefore := event.Before
	if isZeroSHA(knownBefore) {
		knownBefore = ""
	}

	hook := hooks.get(branch)
	hook.RepoName = repo.Name
	hook.RepoURL = p.remote(event)
	hook.RefName = models.HeadsRef(branch)
	hook.BranchName = branch

	for i, commit := range event.Commits {
		if commit.ID == "" {
			return nil, missingField(models.ProviderGitHub, fmt.Sprintf("commits[%d].id", i))
		}
		if hook.Before == "" {
			if knownBefore != "" {
				hook.Before = knownBefore
			} else {
				hook.Before = models.ParentOf(commit.ID)
			}
		}
		hook.After = commit.ID
	}

	if event.After != "" {
		hook.After = event.After
	}
	if hook.After == "" {
		return nil, missingField(models.ProviderGitHub, "after")
	}
	if hook.Before == "" {
		if knownBefore != "" {
			hook.Before = knownBefore
		} else {
			hook.Before = models.ParentOf(hook.After)
		}
	}

	return hooks.list(), nil
}

// remote picks the ssh remote for the pushed repository
func (p *GitHubParser) remote(event GitHubPushEvent) string {
	repo := event.Repository
	owner := repo.Owner.Name
	if owner == "" {
		owner = repo.Owner.Login
	}
	if owner == "" {
		if i := strings.Index(repo.FullName, "/"); i > 0 {
			owner = repo.FullName[:i]
		}
	}

	if p.sshAccount != "" && owner != "" {
		return sshRemote(p.sshAccount, owner, repo.Name)
	}
	if repo.SSHURL != "" {
		return repo.SSHURL
	}
	return repo.CloneURL
}

// GitHubPushEvent represents the GitHub push webhook payload structure
type GitHubPushEvent struct {
	Ref     string `json:"ref"`
	Before  string `json:"before"`
	After   string `json:"after"`
	Created bool   `json:"created"`
	Deleted bool   `json:"deleted"`
	Forced  bool   `json:"forced"`
	Compare string `json:"compare"`
	Repository struct {
		ID       int64  `json:"id"`
		Name     string `json:"name"`
		FullName string `json:"full_name"`
		Private  bool   `json:"private"`
		URL      string `json:"url"`
		HTMLURL  string `json:"html_url"`
		GitURL   string `json:"git_url"`
		SSHURL   string `json:"ssh_url"`
		CloneURL string `json:"clone_url"`
		Owner    struct {
			Name  string `json:"name"`
			Login string `json:"login"`
		} `json:"owner"`
		DefaultBranch string `json:"default_branch"`
	} `json:"repository"`
	Pusher struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"pusher"`
	Commits []struct {
		ID        string `json:"id"`
		Message   string `json:"message"`
		Timestamp string `json:"timestamp"`
		URL       string `json:"url"`
		Author    struct {
			Name     string `json:"name"`
			Email    string `json:"email"`
			Username string `json:"username"`
		} `json:"author"`
	} `json:"commits"`
}
