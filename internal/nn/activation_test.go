package nn

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestActivateAt(t *testing.T) {
	tests := []struct {
		name   string
		act    ActivationType
		inputs []float64
		index  int
		want   float64
	}{
		{name: "sigmoid-zero", act: Sigmoid, inputs: []float64{0}, want: 0.5},
		{name: "tanh-zero", act: TanH, inputs: []float64{0}, want: 0},
		{name: "tanh-one", act: TanH, inputs: []float64{1}, want: math.Tanh(1)},
		{name: "relu-negative", act: ReLU, inputs: []float64{-2}, want: 0},
		{name: "relu-positive", act: ReLU, inputs: []float64{3}, want: 3},
		{name: "silu-zero", act: SiLU, inputs: []float64{0}, want: 0},
		{name: "silu-two", act: SiLU, inputs: []float64{2}, want: 2 / (1 + math.Exp(-2))},
		{name: "softmax-uniform", act: Softmax, inputs: []float64{1, 1, 1, 1}, index: 2, want: 0.25},
		{name: "softmax-pair", act: Softmax, inputs: []float64{0, math.Log(3)}, index: 1, want: 0.75},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fn, err := GetActivation(tc.act)
			if err != nil {
				t.Fatalf("get activation: %v", err)
			}
			got := fn.ActivateAt(tc.inputs, tc.index)
			if math.Abs(got-tc.want) > 1e-12 {
				t.Fatalf("unexpected value: got=%v want=%v", got, tc.want)
			}
		})
	}
}

func TestScalarActivateMatchesVectorForm(t *testing.T) {
	for _, act := range []ActivationType{Sigmoid, TanH, ReLU, SiLU} {
		fn, err := GetActivation(act)
		if err != nil {
			t.Fatalf("get %s: %v", act, err)
		}
		for _, x := range []float64{-3, -0.5, 0, 0.7, 4} {
			if got, want := fn.Activate(x), fn.ActivateAt([]float64{x}, 0); got != want {
				t.Fatalf("%s(%v): scalar=%v vector=%v", act, x, got, want)
			}
		}
	}
}

func TestSoftmaxScalarIsDegenerate(t *testing.T) {
	fn, err := GetActivation(Softmax)
	if err != nil {
		t.Fatalf("get softmax: %v", err)
	}
	for _, x := range []float64{-10, 0, 42} {
		if got := fn.Activate(x); got != 1 {
			t.Fatalf("softmax scalar %v: got=%v want=1", x, got)
		}
	}
}

func TestSoftmaxSumsToOne(t *testing.T) {
	fn, _ := GetActivation(Softmax)
	inputs := []float64{900, 901, -3, 0.5}
	sum := 0.0
	for i := range inputs {
		sum += fn.ActivateAt(inputs, i)
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Fatalf("softmax sum: got=%v want=1", sum)
	}
}

func TestDerivativesMatchFiniteDifference(t *testing.T) {
	const h = 1e-6
	for _, act := range []ActivationType{Sigmoid, TanH, SiLU} {
		fn, _ := GetActivation(act)
		for _, x := range []float64{-1.5, 0.25, 2} {
			numeric := (fn.Activate(x+h) - fn.Activate(x-h)) / (2 * h)
			got := fn.Derivative([]float64{x}, 0)
			if math.Abs(got-numeric) > 1e-6 {
				t.Fatalf("%s'(%v): got=%v numeric=%v", act, x, got, numeric)
			}
		}
	}

	relu, _ := GetActivation(ReLU)
	if relu.Derivative([]float64{-1}, 0) != 0 || relu.Derivative([]float64{1}, 0) != 1 {
		t.Fatal("unexpected relu derivative")
	}

	softmax, _ := GetActivation(Softmax)
	inputs := []float64{0.3, -0.2, 1.1}
	shifted := append([]float64(nil), inputs...)
	shifted[1] += h
	numeric := (softmax.ActivateAt(shifted, 1) - softmax.ActivateAt(inputs, 1)) / h
	if got := softmax.Derivative(inputs, 1); math.Abs(got-numeric) > 1e-5 {
		t.Fatalf("softmax derivative: got=%v numeric=%v", got, numeric)
	}
}

func TestParseActivationType(t *testing.T) {
	for i, name := range ListActivations() {
		got, err := ParseActivationType(name)
		if err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		if got != ActivationType(i) || got.String() != name {
			t.Fatalf("unexpected activation for %s: %v", name, got)
		}
	}
	if got, err := ParseActivationType(" relu "); err != nil || got != ReLU {
		t.Fatalf("case-insensitive parse: got=%v err=%v", got, err)
	}
	if _, err := ParseActivationType("gaussian"); !errors.Is(err, ErrActivationNotFound) {
		t.Fatalf("expected ErrActivationNotFound, got: %v", err)
	}
}

func TestActivationTypeJSONUsesName(t *testing.T) {
	data, err := json.Marshal(struct {
		Act ActivationType `json:"act"`
	}{Act: SiLU})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"act":"SiLU"}` {
		t.Fatalf("unexpected json: %s", data)
	}

	var decoded struct {
		Act ActivationType `json:"act"`
	}
	if err := json.Unmarshal([]byte(`{"act":"Softmax"}`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Act != Softmax {
		t.Fatalf("unexpected decoded activation: %v", decoded.Act)
	}
}
