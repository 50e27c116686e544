package idhash

import "testing"

func TestComputeTransferIDDeterministic(t *testing.T) {
	a := ComputeTransferID("pool1", "alice", "bob", 50, 1704067200000)
	b := ComputeTransferID("pool1", "alice", "bob", 50, 1704067200000)

	if a != b {
		t.Errorf("same inputs produced different IDs: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64-char hex hash, got %d chars", len(a))
	}
}

func TestComputeTransferIDDistinct(t *testing.T) {
	base := ComputeTransferID("pool1", "alice", "bob", 50, 1704067200000)

	variants := []string{
		ComputeTransferID("pool2", "alice", "bob", 50, 1704067200000),
		ComputeTransferID("pool1", "bob", "alice", 50, 1704067200000),
		ComputeTransferID("pool1", "alice", "bob", 51, 1704067200000),
		ComputeTransferID("pool1", "alice", "bob", 50, 1704067200001),
	}

	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collided with base ID", i)
		}
	}
}

func TestComputeCreditKeyDeterministic(t *testing.T) {
	a := ComputeCreditKey("dist1", "alice")
	b := ComputeCreditKey("dist1", "alice")
	if a != b {
		t.Errorf("same inputs produced different keys: %s vs %s", a, b)
	}
	if ComputeCreditKey("dist1", "bob") == a {
		t.Error("different holders produced the same credit key")
	}
	if ComputeCreditKey("dist2", "alice") == a {
		t.Error("different distributions produced the same credit key")
	}
}
