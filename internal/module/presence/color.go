package presence

// palette holds the cursor colors assigned to collaborators. Assignment is a
// stable hash of the username so a user keeps the same color across sessions.
var palette = []string{
	"#FF6B6B",
	"#4ECDC4",
	"#45B7D1",
	"#96CEB4",
	"#FFEAA7",
	"#DDA0DD",
	"#98D8C8",
	"#F7DC6F",
	"#BB8FCE",
	"#85C1E9",
}

// ColorFor returns the palette color for a username.
func ColorFor(username string) string {
	var hash uint32
	for _, r := range username {
		hash = uint32(r) + ((hash << 5) - hash)
	}
	return palette[hash%uint32(len(palette))]
}
