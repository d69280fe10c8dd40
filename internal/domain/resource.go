package domain

// Resource identifies a deployable unit: the compose manifest that defines it
// plus the logical name it is known by. A resource is created once at deploy
// time and torn down exactly once.
type Resource struct {
	Name        string `json:"name"`
	ComposeFile string `json:"compose_file"`
}
