package datasync

// Changes partitions a Holder's keys by how the staged view differs from
// the current view. It is memoized by the Holder and recomputed after
// any mutating call.
type Changes struct {
	Added     []string
	Updated   []string
	Removed   []string
	Unchanged []string
}

// IsChanged reports whether any key was added, updated or removed.
func (c *Changes) IsChanged() bool {
	return len(c.Added)+len(c.Updated)+len(c.Removed) > 0
}
