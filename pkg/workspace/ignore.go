package workspace

import (
	"os"
	"path/filepath"

	ignore "github.com/sabhiram/go-gitignore"
)

// defaultIgnorePatterns is the compile-time default set spec.md §4.3
// names: VCS directories, environment/credential patterns, OS noise,
// and editor directories. Always unioned with the workspace's
// .stateignore, never replaced by it.
var defaultIgnorePatterns = []string{
	".git/",
	".hg/",
	".svn/",
	".state/",
	".stateignore",
	".flanes-dirty",
	".env",
	".env.*",
	"*.pem",
	"*.key",
	".DS_Store",
	"Thumbs.db",
	".idea/",
	".vscode/",
	"*.swp",
	"*.swo",
	"*~",
}

// ignoreSet matches a relative path against the default patterns
// unioned with a workspace's .stateignore file, using gitignore syntax
// for both.
type ignoreSet struct {
	matcher *ignore.GitIgnore
}

// loadIgnoreSet reads workspaceRoot/.stateignore (if present) and
// compiles it together with the default patterns.
func loadIgnoreSet(workspaceRoot string) (*ignoreSet, error) {
	patterns := append([]string(nil), defaultIgnorePatterns...)

	userFile := filepath.Join(workspaceRoot, ".stateignore")
	if body, err := os.ReadFile(userFile); err == nil {
		patterns = append(patterns, splitLines(string(body))...)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	return &ignoreSet{matcher: ignore.CompileIgnoreLines(patterns...)}, nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// Ignored reports whether relPath (slash-separated, relative to the
// workspace root) should be skipped during snapshot.
func (s *ignoreSet) Ignored(relPath string) bool {
	return s.matcher.MatchesPath(relPath)
}
