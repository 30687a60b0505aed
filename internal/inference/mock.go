package inference

import (
	"fmt"
	"sync"
)

// MockInference is a Classifier for tests and for running the service
// without a model artifact. It returns a fixed label and never reports
// probabilities; see MockProbability for that.
type MockInference struct {
	mu sync.Mutex

	// Label is returned by every Predict call.
	Label int
	// ShouldError if true, Predict will return an error
	ShouldError bool
	// ErrorMessage is the error message to return when ShouldError is true
	ErrorMessage string
	// CallCount tracks the number of times Predict was called
	CallCount int
	// Closed is set once Close has been called.
	Closed bool
}

// NewMock creates a MockInference that predicts label.
func NewMock(label int) *MockInference {
	return &MockInference{Label: label}
}

// Predict validates the vector length and returns the configured label.
func (m *MockInference) Predict(features []float64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCount++

	if m.ShouldError {
		if m.ErrorMessage != "" {
			return 0, fmt.Errorf("%s", m.ErrorMessage)
		}
		return 0, fmt.Errorf("mock inference error")
	}
	if err := checkFeatures(features); err != nil {
		return 0, err
	}
	return m.Label, nil
}

// Close is a no-op for the mock implementation
func (m *MockInference) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// SetError configures the mock to return an error on the next Predict call
func (m *MockInference) SetError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldError = true
	m.ErrorMessage = msg
}

// ClearError clears any configured error
func (m *MockInference) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldError = false
	m.ErrorMessage = ""
}

// Calls returns the number of Predict calls so far.
func (m *MockInference) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// MockProbability is a MockInference that also reports fixed class probabilities.
type MockProbability struct {
	*MockInference
	Probabilities []float64
}

// NewMockWithProba creates a mock that predicts label with the given class probabilities.
func NewMockWithProba(label int, probs []float64) *MockProbability {
	return &MockProbability{
		MockInference: NewMock(label),
		Probabilities: probs,
	}
}

// PredictProba returns a copy of the configured probabilities.
func (m *MockProbability) PredictProba(features []float64) ([]float64, error) {
	if err := checkFeatures(features); err != nil {
		return nil, err
	}
	out := make([]float64, len(m.Probabilities))
	copy(out, m.Probabilities)
	return out, nil
}

// Ensure the mocks implement the contracts at compile time
var (
	_ Classifier            = (*MockInference)(nil)
	_ ProbabilityClassifier = (*MockProbability)(nil)
)
