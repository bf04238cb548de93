package localfs

// ListOptions configures ListDirectory.
type ListOptions struct {
	// IncludeHidden includes dotfiles. Default excludes them.
	IncludeHidden bool
}
