package crawler

import "strings"

// Classifier decides whether a display name denotes a folder or a file.
//
// The default rule is a declared heuristic: an entry is a folder iff its
// display name contains no "." character. It misclassifies files without
// an extension as folders and dotted folder names as files; the override
// lists exist to correct known cases by exact display name.
type Classifier struct {
	forceFiles   map[string]struct{}
	forceFolders map[string]struct{}
}

// NewClassifier builds a classifier with per-name overrides
func NewClassifier(forceFiles, forceFolders []string) *Classifier {
	c := &Classifier{
		forceFiles:   make(map[string]struct{}, len(forceFiles)),
		forceFolders: make(map[string]struct{}, len(forceFolders)),
	}
	for _, name := range forceFiles {
		c.forceFiles[name] = struct{}{}
	}
	for _, name := range forceFolders {
		c.forceFolders[name] = struct{}{}
	}
	return c
}

// IsFolder classifies a display name. Overrides win over the heuristic;
// a name present in both lists is treated as a file.
func (c *Classifier) IsFolder(name string) bool {
	if _, ok := c.forceFiles[name]; ok {
		return false
	}
	if _, ok := c.forceFolders[name]; ok {
		return true
	}
	return !strings.Contains(name, ".")
}
