package avi

import "testing"

func TestStreamCachePushAndFullHit(t *testing.T) {
	c := newStreamCache(1024)
	payload := []byte("0123456789ABCDEF")
	if !c.push(1000, payload) {
		t.Fatalf("push failed unexpectedly")
	}

	data, hit, partial := c.read(1000, len(payload))
	if !hit || partial != nil {
		t.Fatalf("expected full hit, got hit=%v partial=%v", hit, partial)
	}
	if string(data) != string(payload) {
		t.Fatalf("read data = %q, want %q", data, payload)
	}
}

func TestStreamCachePartialHit(t *testing.T) {
	c := newStreamCache(1024)
	payload := []byte("0123456789ABCDEF")
	c.push(1000, payload)

	// Ask for a range that starts inside the block but extends beyond it.
	_, hit, partial := c.read(1005, 100)
	if hit {
		t.Fatalf("expected a partial (not full) hit")
	}
	if string(partial) != "56789ABCDEF" {
		t.Fatalf("partial = %q, want %q", partial, "56789ABCDEF")
	}
}

func TestStreamCacheMiss(t *testing.T) {
	c := newStreamCache(1024)
	c.push(1000, []byte("0123456789ABCDEF"))

	_, hit, partial := c.read(5000, 16)
	if hit || partial != nil {
		t.Fatalf("expected a clean miss, got hit=%v partial=%v", hit, partial)
	}
}

func TestStreamCacheEvictsOldestOnOverflow(t *testing.T) {
	// granulesFor(16) == 2 granules per 16-byte block (1 header + 1
	// payload granule); a 4-granule cache holds exactly two such blocks.
	c := newStreamCache(4)
	block := bytes16(0xAA)
	if !c.push(0, block) {
		t.Fatalf("first push should fit")
	}
	if !c.push(16, block) {
		t.Fatalf("second push should fit")
	}
	if !c.push(32, block) {
		t.Fatalf("third push should fit after evicting the first")
	}
	if _, hit, _ := c.read(0, 16); hit {
		t.Fatalf("oldest block should have been evicted")
	}
	if _, hit, _ := c.read(32, 16); !hit {
		t.Fatalf("newest block should still be cached")
	}
}

func bytes16(b byte) []byte {
	out := make([]byte, 16)
	for i := range out {
		out[i] = b
	}
	return out
}

func TestStreamingStatsNeedsRemediation(t *testing.T) {
	var s streamingStats
	for i := 0; i < 60; i++ {
		s.recordHit(10)
	}
	if s.needsRemediation() {
		t.Fatalf("a healthy hit-dominated window should not need remediation")
	}
	s.reset()
	for i := 0; i < 60; i++ {
		s.recordMiss(100)
	}
	if !s.needsRemediation() {
		t.Fatalf("a 100%% miss window over the threshold should need remediation")
	}
}

func TestRemediateTearsDownAheadLeader(t *testing.T) {
	// Leader has pushed less than half of the aggrieved stream's bytes
	// and is far enough ahead: spec says tear down the leader.
	tearDown := remediate(100, 1000, 600*1024, 0)
	if !tearDown {
		t.Fatalf("expected leader teardown")
	}
}

func TestRemediateLeavesCloseLeaderAlone(t *testing.T) {
	tearDown := remediate(100, 1000, 1000, 0)
	if tearDown {
		t.Fatalf("leader not far enough ahead; aggrieved stream should be disabled instead")
	}
}

func TestDetectConstantStrideVideoRequiresWindow(t *testing.T) {
	s := &Stream{}
	var detected bool
	for i := 0; i < streamingDetectWindow+1; i++ {
		detected = s.detectConstantStrideVideo(i, 0, 0)
	}
	if !detected {
		t.Fatalf("constant stride over the detection window should be declared streaming")
	}
}

func TestDetectSequentialAudioRequiresWindow(t *testing.T) {
	s := &Stream{}
	var pos int64
	var detected bool
	for i := 0; i < sampleStreamingDetectWindow+1; i++ {
		detected = s.detectSequentialAudio(pos, 16, 0)
		pos += 16
	}
	if !detected {
		t.Fatalf("sequential reads over the detection window should be declared streaming")
	}
}
