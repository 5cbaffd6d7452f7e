package record

// MasteryLevel is a user's proficiency stage with one learnable item.
type MasteryLevel string

const (
	LevelNew        MasteryLevel = "new"
	LevelLearning   MasteryLevel = "learning"
	LevelFamiliar   MasteryLevel = "familiar"
	LevelProficient MasteryLevel = "proficient"
	LevelExpert     MasteryLevel = "expert"
)

// AllLevels returns every mastery level from lowest to highest.
func AllLevels() []MasteryLevel {
	return []MasteryLevel{LevelNew, LevelLearning, LevelFamiliar, LevelProficient, LevelExpert}
}

// Ordinal returns the position of l in AllLevels, or -1 if l is unknown.
func (l MasteryLevel) Ordinal() int {
	for i, lv := range AllLevels() {
		if lv == l {
			return i
		}
	}
	return -1
}

// Valid reports whether l is a known level.
func (l MasteryLevel) Valid() bool { return l.Ordinal() >= 0 }

// Next returns the level one above l. EXPERT returns itself.
func (l MasteryLevel) Next() MasteryLevel {
	levels := AllLevels()
	i := l.Ordinal()
	if i < 0 || i == len(levels)-1 {
		return l
	}
	return levels[i+1]
}

// DisplayName returns a human-readable label.
func (l MasteryLevel) DisplayName() string {
	switch l {
	case LevelNew:
		return "New"
	case LevelLearning:
		return "Learning"
	case LevelFamiliar:
		return "Familiar"
	case LevelProficient:
		return "Proficient"
	case LevelExpert:
		return "Expert"
	default:
		return string(l)
	}
}
