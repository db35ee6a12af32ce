package branch

// Responses is an in-memory ResponseStore.
type Responses struct {
	Given   map[string][]string `json:"given,omitempty"`
	Correct map[string][]string `json:"correct,omitempty"`
}

// NewResponses creates an empty response store.
func NewResponses() *Responses {
	return &Responses{
		Given:   make(map[string][]string),
		Correct: make(map[string][]string),
	}
}

// Set records the test-taker's response for a variable.
func (r *Responses) Set(variable string, values ...string) {
	if r.Given == nil {
		r.Given = make(map[string][]string)
	}
	r.Given[variable] = values
}

// SetCorrect records the correct response for a variable.
func (r *Responses) SetCorrect(variable string, values ...string) {
	if r.Correct == nil {
		r.Correct = make(map[string][]string)
	}
	r.Correct[variable] = values
}

// Response implements ResponseStore.
func (r *Responses) Response(variable string) ([]string, bool) {
	v, ok := r.Given[variable]
	return v, ok
}

// CorrectResponse implements ResponseStore.
func (r *Responses) CorrectResponse(variable string) ([]string, bool) {
	v, ok := r.Correct[variable]
	return v, ok
}

var _ ResponseStore = (*Responses)(nil)
