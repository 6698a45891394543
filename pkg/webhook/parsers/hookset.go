package parsers

import (
	"strings"

	"github.com/buger/jsonparser"

	"github.com/bbva/deeptracy-api/internal/models"
)

// hookSet groups Hooks by branch name, keeping first-seen order
type hookSet struct {
	provider models.Provider
	order    []string
	hooks    map[string]*models.Hook
}

func newHookSet(provider models.Provider) *hookSet {
	return &hookSet{
		provider: provider,
		hooks:    make(map[string]*models.Hook),
	}
}

// get returns the Hook of a branch, creating it on first use
func (s *hookSet) get(branch string) *models.Hook {
	if hook, ok := s.hooks[branch]; ok {
		return hook
	}
	hook := models.NewHook(s.provider)
	s.hooks[branch] = hook
	s.order = append(s.order, branch)
	return hook
}

func (s *hookSet) list() []*models.Hook {
	hooks := make([]*models.Hook, 0, len(s.order))
	for _, branch := range s.order {
		hooks = append(hooks, s.hooks[branch])
	}
	return hooks
}

// requireKeys checks that every top-level key is present in the payload.
// A key holding null counts as present.
func requireKeys(provider models.Provider, payload []byte, keys ...string) error {
	for _, key := range keys {
		if _, _, _, err := jsonparser.Get(payload, key); err != nil {
			return missingField(provider, key)
		}
	}
	return nil
}

// sshRemote builds an scp-like remote such as git@bitbucket.org:owner/repo.git
func sshRemote(account, owner, repo string) string {
	return account + ":" + owner + "/" + repo + ".git"
}

// isZeroSHA reports whether a commit id is git's all-zero placeholder
func isZeroSHA(sha string) bool {
	return sha != "" && strings.Trim(sha, "0") == ""
}
