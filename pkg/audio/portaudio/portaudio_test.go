package portaudio

import "testing"

func TestDownmixCapture(t *testing.T) {
	var got []int16
	fn := downmixCapture(func(samples []int16) {
		got = append(got[:0], samples...)
	}, 4)

	// Four interleaved L+R pairs averaging to 10, 20, 30, 40.
	fn([]int16{8, 12, 18, 22, 28, 32, 38, 42})

	want := []int16{10, 20, 30, 40}
	if len(got) != len(want) {
		t.Fatalf("handler received %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDownmixCapture_ReusesBuffer(t *testing.T) {
	var first, second []int16
	calls := 0
	fn := downmixCapture(func(samples []int16) {
		calls++
		if calls == 1 {
			first = samples
		} else {
			second = samples
		}
	}, 2)

	fn([]int16{1, 1, 2, 2})
	fn([]int16{3, 3, 4, 4})

	if calls != 2 {
		t.Fatalf("handler called %d times, want 2", calls)
	}
	if &first[0] != &second[0] {
		t.Error("callback allocated a fresh buffer per invocation")
	}
}

func TestUpmixPlayback(t *testing.T) {
	fn := upmixPlayback(func(samples []int16) {
		for i := range samples {
			samples[i] = int16((i + 1) * 100)
		}
	}, 3)

	out := make([]int16, 6)
	fn(out)

	want := []int16{100, 100, 200, 200, 300, 300}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}
