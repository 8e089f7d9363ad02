package sim

// Kind classifies an observer. It decides firing order at a shared step,
// never where the observer is stored.
type Kind int

const (
	Generic Kind = iota
	Writer
	Checkpoint
	Target
)

var kindNames = map[Kind]string{
	Generic:    "generic",
	Writer:     "writer",
	Checkpoint: "checkpoint",
	Target:     "target",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// rank orders kinds within a step: writers and generic observers first,
// checkpoint writers after them, targets last.
func (k Kind) rank() int {
	switch k {
	case Checkpoint:
		return 1
	case Target:
		return 2
	default:
		return 0
	}
}
