package parsers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"

	"github.com/bbva/deeptracy-api/internal/models"
)

// BitbucketParser parses Bitbucket POST service payloads
type BitbucketParser struct {
	sshAccount string
}

// NewBitbucketParser creates a parser building remotes on the given ssh account
func NewBitbucketParser(sshAccount string) *BitbucketParser {
	return &BitbucketParser{
		sshAccount: sshAccount,
	}
}

// Provider returns the provider this parser handles
func (p *BitbucketParser) Provider() models.Provider {
	return models.ProviderBitbucket
}

// Detect matches payloads whose actor.links.self.href points at bitbucket
func (p *BitbucketParser) Detect(payload []byte) bool {
	href, err := jsonparser.GetString(payload, "actor", "links", "self", "href")
	if err != nil {
		return false
	}
	return strings.Contains(href, "bitbucket")
}

// Parse extracts one Hook per branch from a Bitbucket payload
func (p *BitbucketParser) Parse(payload []byte) ([]*models.Hook, error) {
	if err := requireKeys(models.ProviderBitbucket, payload, "canon_url", "commits", "repository"); err != nil {
		return nil, err
	}
	if _, dataType, _, _ := jsonparser.Get(payload, "commits"); dataType != jsonparser.Array {
		return nil, &PayloadError{Provider: models.ProviderBitbucket, Field: "commits", Reason: "must be an array"}
	}

	var body BitbucketWebhook
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, &PayloadError{Provider: models.ProviderBitbucket, Field: "body", Reason: fmt.Sprintf("is not valid: %v", err)}
	}

	hooks := newHookSet(models.ProviderBitbucket)
	repo := body.Repository

	for i, commit := range body.Commits {
		// Bitbucket sends a null branch when a push touches several
		// branches (they are listed under "branches" instead) and on some
		// multi-commit pushes. Those commits carry nothing to group by.
		if commit.Branch == "" {
			continue
		}

		if repo.Slug == "" {
			return nil, missingField(models.ProviderBitbucket, "repository.slug")
		}
		if repo.Owner == "" {
			return nil, missingField(models.ProviderBitbucket, "repository.owner")
		}
		if commit.RawNode == "" {
			return nil, missingField(models.ProviderBitbucket, fmt.Sprintf("commits[%d].raw_node", i))
		}

		hook := hooks.get(commit.Branch)
		hook.RepoName = repo.Slug
		hook.RepoURL = sshRemote(p.sshAccount, string(repo.Owner), repo.Slug)
		hook.RefName = models.HeadsRef(commit.Branch)
		hook.BranchName = commit.Branch
		if hook.Before == "" {
			hook.Before = models.ParentOf(commit.RawNode)
		}
		hook.After = commit.RawNode
	}

	return hooks.list(), nil
}

// BitbucketWebhook represents the Bitbucket POST service payload structure
type BitbucketWebhook struct {
	CanonURL   string `json:"canon_url"`
	User       string `json:"user"`
	Truncated  bool   `json:"truncated"`
	Repository struct {
		Name        string         `json:"name"`
		Slug        string         `json:"slug"`
		Owner       bitbucketOwner `json:"owner"`
		AbsoluteURL string         `json:"absolute_url"`
		SCM         string         `json:"scm"`
		IsPrivate   bool           `json:"is_private"`
		Website     string         `json:"website"`
	} `json:"repository"`
	Commits []struct {
		Node         string   `json:"node"`
		RawNode      string   `json:"raw_node"`
		Branch       string   `json:"branch"`
		Branches     []string `json:"branches"`
		Parents      []string `json:"parents"`
		Author       string   `json:"author"`
		RawAuthor    string   `json:"raw_author"`
		Message      string   `json:"message"`
		Timestamp    string   `json:"timestamp"`
		UTCTimestamp string   `json:"utctimestamp"`
		Size         int      `json:"size"`
	} `json:"commits"`
}

// bitbucketOwner accepts the owner either as a plain account name or as a
// user object
type bitbucketOwner string

func (o *bitbucketOwner) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*o = bitbucketOwner(name)
		return nil
	}

	var user struct {
		Username string `json:"username"`
		Nickname string `json:"nickname"`
	}
	if err := json.Unmarshal(data, &user); err != nil {
		return fmt.Errorf("owner must be a string or a user object: %w", err)
	}
	if user.Username != "" {
		*o = bitbucketOwner(user.Username)
	} else {
		*o = bitbucketOwner(user.Nickname)
	}
	return nil
}
