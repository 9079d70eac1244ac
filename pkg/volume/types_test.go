package volume

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	device DeviceIdentity
	paths  []MountPath
	err    error
}

func (f *fakeResolver) DeviceName(ctx context.Context, name string) (DeviceIdentity, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.device, nil
}

func (f *fakeResolver) MountPaths(ctx context.Context, device DeviceIdentity) ([]MountPath, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.paths, nil
}

func TestVolumeIdentity_Equal(t *testing.T) {
	a := NewVolumeIdentity(`\\?\Volume{a}`, nil)
	b := NewVolumeIdentity(`\\?\Volume{a}`, &fakeResolver{})
	c := NewVolumeIdentity(`\\?\Volume{b}`, nil)

	assert.True(t, a.Equal(b), "identities with the same name must be equal regardless of resolver")
	assert.False(t, a.Equal(c))
}

func TestVolumeIdentity_DeviceIdentity_NoResolver(t *testing.T) {
	v := NewVolumeIdentity("vol", nil)
	_, err := v.DeviceIdentity(context.Background())
	require.Error(t, err)
}

func TestVolumeIdentity_MountPaths(t *testing.T) {
	resolver := &fakeResolver{device: "dev1", paths: []MountPath{"D:\\", "E:\\"}}
	v := NewVolumeIdentity("vol", resolver)

	paths, err := v.MountPaths(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []MountPath{"D:\\", "E:\\"}, paths)
}

func TestVolumeIdentity_MountPaths_ResolveFailure(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("boom")}
	v := NewVolumeIdentity("vol", resolver)

	_, err := v.MountPaths(context.Background())
	require.Error(t, err)
}

func TestSrcMatch_Empty(t *testing.T) {
	assert.True(t, SrcMatch{}.Empty())
	assert.False(t, SrcMatch{Volume: "v"}.Empty())
	assert.False(t, SrcMatch{Device: "d"}.Empty())
}

func TestSyncPair_Validate(t *testing.T) {
	cases := []struct {
		name    string
		pair    SyncPair
		wantErr bool
	}{
		{
			name:    "valid volume match",
			pair:    SyncPair{Match: SrcMatch{Volume: "v1"}, SrcPath: "photos", DestPath: "/backup", Concurrency: 4},
			wantErr: false,
		},
		{
			name:    "zero concurrency rejected",
			pair:    SyncPair{Match: SrcMatch{Volume: "v1"}, Concurrency: 0},
			wantErr: true,
		},
		{
			name:    "negative concurrency rejected",
			pair:    SyncPair{Match: SrcMatch{Volume: "v1"}, Concurrency: -1},
			wantErr: true,
		},
		{
			name:    "empty match rejected",
			pair:    SyncPair{Concurrency: 1},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.pair.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSyncPair_Matches(t *testing.T) {
	cases := []struct {
		name       string
		pair       SyncPair
		volume     string
		device     string
		wantMatch  bool
	}{
		{"volume only, matches", SyncPair{Match: SrcMatch{Volume: "v1"}}, "v1", "anything", true},
		{"volume only, mismatch", SyncPair{Match: SrcMatch{Volume: "v1"}}, "v2", "anything", false},
		{"device only, matches", SyncPair{Match: SrcMatch{Device: "d1"}}, "anything", "d1", true},
		{"both fields, both must match", SyncPair{Match: SrcMatch{Volume: "v1", Device: "d1"}}, "v1", "d1", true},
		{"both fields, one mismatches", SyncPair{Match: SrcMatch{Volume: "v1", Device: "d1"}}, "v1", "d2", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.wantMatch, tc.pair.Matches(tc.volume, tc.device))
		})
	}
}

func TestDispositionConstructors(t *testing.T) {
	tok := &noopToken{}
	cleaned := false

	d := Spawned(tok, func() { cleaned = true })
	assert.Equal(t, DispositionSpawned, d.Kind)
	require.NotNil(t, d.Cleanup)
	d.Cleanup()
	assert.True(t, cleaned)

	assert.Equal(t, DispositionIgnore, Ignore().Kind)
	assert.Equal(t, DispositionSkip, Skip().Kind)
}

func TestDispositionKind_String(t *testing.T) {
	assert.Equal(t, "Spawned", DispositionSpawned.String())
	assert.Equal(t, "Ignore", DispositionIgnore.String())
	assert.Equal(t, "Skip", DispositionSkip.String())
	assert.Equal(t, "Unknown", DispositionKind(99).String())
}

type noopToken struct{}

func (noopToken) Abort()          {}
func (noopToken) Finished() bool  { return false }
