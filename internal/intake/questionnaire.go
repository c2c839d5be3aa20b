package intake

// Step is a single question within a Block.
type Step struct {
	ID       string
	Required bool
	Hint     string
	Category string
}

// Block is an ordered group of related questions.
type Block struct {
	ID    string
	Name  string
	Steps []Step
}

// Questionnaire is an ordered sequence of blocks for one case category.
type Questionnaire []Block

// Category names a supported case category; each has its own
// questionnaire.
const (
	CategoryGeneral = "General"
	CategoryEB1A    = "EB1A"
	CategoryO1      = "O1"
)

// DefaultCategory is used when intake_start's payload omits a category.
const DefaultCategory = CategoryGeneral

// Catalog maps a category to its questionnaire. Grounded on the spec's
// S1 scenario (General's first block is "basic_info", first step "name").
var Catalog = map[string]Questionnaire{
	CategoryGeneral: {
		{ID: "basic_info", Name: "Basic information", Steps: []Step{
			{ID: "name", Required: true, Hint: "Your full legal name", Category: CategoryGeneral},
			{ID: "email", Required: true, Hint: "A contact email", Category: CategoryGeneral},
			{ID: "phone", Required: false, Hint: "A contact phone number", Category: CategoryGeneral},
		}},
		{ID: "case_summary", Name: "Case summary", Steps: []Step{
			{ID: "goal", Required: true, Hint: "What outcome are you seeking?", Category: CategoryGeneral},
			{ID: "timeline", Required: false, Hint: "Any relevant deadlines", Category: CategoryGeneral},
		}},
	},
	CategoryEB1A: {
		{ID: "basic_info", Name: "Basic information", Steps: []Step{
			{ID: "name", Required: true, Hint: "Your full legal name", Category: CategoryEB1A},
			{ID: "email", Required: true, Hint: "A contact email", Category: CategoryEB1A},
			{ID: "field_of_endeavor", Required: true, Hint: "Your field of extraordinary ability", Category: CategoryEB1A},
		}},
		{ID: "eb1a_criteria", Name: "Extraordinary ability criteria", Steps: []Step{
			{ID: "awards", Required: false, Hint: "Nationally/internationally recognized awards", Category: CategoryEB1A},
			{ID: "membership", Required: false, Hint: "Membership in associations requiring outstanding achievement", Category: CategoryEB1A},
			{ID: "press", Required: false, Hint: "Published material about you in major media", Category: CategoryEB1A},
			{ID: "judging", Required: false, Hint: "Experience judging the work of others", Category: CategoryEB1A},
			{ID: "original_contribution", Required: false, Hint: "Original contributions of major significance", Category: CategoryEB1A},
			{ID: "scholarly_articles", Required: false, Hint: "Authorship of scholarly articles", Category: CategoryEB1A},
			{ID: "critical_role", Required: false, Hint: "Critical/leading role for distinguished organizations", Category: CategoryEB1A},
			{ID: "high_remuneration", Required: false, Hint: "High salary relative to others in the field", Category: CategoryEB1A},
		}},
		{ID: "evidence_summary", Name: "Evidence summary", Steps: []Step{
			{ID: "strongest_criterion", Required: true, Hint: "Which criterion is your strongest?", Category: CategoryEB1A},
		}},
	},
	CategoryO1: {
		{ID: "basic_info", Name: "Basic information", Steps: []Step{
			{ID: "name", Required: true, Hint: "Your full legal name", Category: CategoryO1},
			{ID: "email", Required: true, Hint: "A contact email", Category: CategoryO1},
			{ID: "sponsor", Required: true, Hint: "Petitioning employer or agent", Category: CategoryO1},
		}},
		{ID: "o1_criteria", Name: "Extraordinary ability/achievement criteria", Steps: []Step{
			{ID: "awards", Required: false, Hint: "Nationally/internationally recognized awards", Category: CategoryO1},
			{ID: "critical_employment", Required: false, Hint: "Critical employment for distinguished organizations", Category: CategoryO1},
			{ID: "press", Required: false, Hint: "Published material about you in professional/major media", Category: CategoryO1},
		}},
	},
}

// TotalSteps returns the number of questions across every block of q.
func (q Questionnaire) TotalSteps() int {
	n := 0
	for _, b := range q {
		n += len(b.Steps)
	}
	return n
}

// BlockIndex returns the index of the block with the given ID, or -1.
func (q Questionnaire) BlockIndex(blockID string) int {
	for i, b := range q {
		if b.ID == blockID {
			return i
		}
	}
	return -1
}
