package runconfig

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load(10, 100)
	if cfg.RAMSize != defaultRAMSize {
		t.Errorf("RAMSize = %d, want default %d", cfg.RAMSize, defaultRAMSize)
	}
	if cfg.Threads != defaultThreads {
		t.Errorf("Threads = %d, want default %d", cfg.Threads, defaultThreads)
	}
	if cfg.FramesPerGroup != 10 {
		t.Errorf("FramesPerGroup = %d, want 10", cfg.FramesPerGroup)
	}
	if cfg.MaxFrames != 100 {
		t.Errorf("MaxFrames = %d, want 100", cfg.MaxFrames)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RAM_SIZE", "1024")
	t.Setenv("THREADS", "8")
	t.Setenv("USE_ALL", "true")

	cfg := Load(10, 100)
	if cfg.RAMSize != 1024 {
		t.Errorf("RAMSize = %d, want 1024", cfg.RAMSize)
	}
	if cfg.Threads != 8 {
		t.Errorf("Threads = %d, want 8", cfg.Threads)
	}
	if !cfg.UseAll {
		t.Error("UseAll should be true")
	}
}

func TestLoadInvalidEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("THREADS", "not-a-number")
	cfg := Load(10, 100)
	if cfg.Threads != defaultThreads {
		t.Errorf("Threads = %d, want default %d on invalid input", cfg.Threads, defaultThreads)
	}
}

func TestWorkers(t *testing.T) {
	cases := []struct {
		threads, want int
	}{
		{0, 1},
		{1, 1},
		{4, 3},
		{8, 7},
	}
	for _, c := range cases {
		cfg := Config{Threads: c.threads}
		if got := cfg.Workers(); got != c.want {
			t.Errorf("Workers() with Threads=%d = %d, want %d", c.threads, got, c.want)
		}
	}
}

func TestMaxFrameGroups(t *testing.T) {
	cases := []struct {
		fpg       int
		maxFrames int64
		want      int64
	}{
		{10, 100, 10},
		{10, 95, 10},
		{1, 50, 50},
		{0, 50, 50},
	}
	for _, c := range cases {
		cfg := Config{FramesPerGroup: c.fpg, MaxFrames: c.maxFrames}
		if got := cfg.MaxFrameGroups(); got != c.want {
			t.Errorf("MaxFrameGroups() fpg=%d maxFrames=%d = %d, want %d", c.fpg, c.maxFrames, got, c.want)
		}
	}
}
