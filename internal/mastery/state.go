package mastery

import "github.com/abhisek/cadence/internal/record"

// Repetition thresholds for promotion. A level is reached when the item's
// consecutive-correct count since the last lapse reaches its threshold,
// one level per attempt.
const (
	FamiliarThreshold   = 2
	ProficientThreshold = 4
	ExpertThreshold     = 6
)

// Trigger names the cause of a mastery transition.
type Trigger string

const (
	TriggerFirstAttempt Trigger = "first-attempt"
	TriggerPromotion    Trigger = "promotion"
	TriggerLapse        Trigger = "lapse"
	TriggerReset        Trigger = "reset"
	TriggerManual       Trigger = "manual"
)

// StateTransition records a mastery level change for display and event logging.
type StateTransition struct {
	ItemID  string
	From    record.MasteryLevel
	To      record.MasteryLevel
	Trigger Trigger
}

// threshold returns the repetition count required to hold level.
func threshold(level record.MasteryLevel) int {
	switch level {
	case record.LevelFamiliar:
		return FamiliarThreshold
	case record.LevelProficient:
		return ProficientThreshold
	case record.LevelExpert:
		return ExpertThreshold
	default:
		return 0
	}
}

// AfterAttempt returns the level an item moves to after an attempt.
// repetitionCount is the count after the attempt was applied.
//
//   - NEW always moves to LEARNING on the first attempt.
//   - A lapse above NEW demotes to LEARNING.
//   - A correct answer promotes one level once repetitionCount reaches the
//     next level's threshold. EXPERT is only reachable from PROFICIENT.
func AfterAttempt(current record.MasteryLevel, correct bool, repetitionCount int) (record.MasteryLevel, Trigger) {
	if current == record.LevelNew {
		next := record.LevelLearning
		if correct && repetitionCount >= threshold(record.LevelFamiliar) {
			next = record.LevelFamiliar
		}
		return next, TriggerFirstAttempt
	}

	if !correct {
		if current == record.LevelLearning {
			return current, ""
		}
		return record.LevelLearning, TriggerLapse
	}

	next := current.Next()
	if next != current && repetitionCount >= threshold(next) {
		return next, TriggerPromotion
	}
	return current, ""
}

// Transition returns a StateTransition, or nil when from == to.
func Transition(itemID string, from, to record.MasteryLevel, trigger Trigger) *StateTransition {
	if from == to {
		return nil
	}
	return &StateTransition{ItemID: itemID, From: from, To: to, Trigger: trigger}
}

// Distribution counts items per mastery level. Every level is present.
func Distribution(items []*record.LearningItem) map[record.MasteryLevel]int {
	dist := make(map[record.MasteryLevel]int, len(record.AllLevels()))
	for _, lv := range record.AllLevels() {
		dist[lv] = 0
	}
	for _, it := range items {
		dist[it.MasteryLevel]++
	}
	return dist
}
