package vault

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDriveLockMutualExclusion(t *testing.T) {
	locks := newLockRegistry()
	ctx := context.Background()

	release, err := locks.lockDrive(ctx)
	require.NoError(t, err)

	// a second acquire times out while the first guard is held
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = locks.lockDrive(shortCtx)
	require.ErrorIs(t, err, ErrInvalidState)

	release()

	// and succeeds once released
	release2, err := locks.lockDrive(ctx)
	require.NoError(t, err)
	release2()
}

func TestNamedLocksAreIndependent(t *testing.T) {
	locks := newLockRegistry()
	ctx := context.Background()

	releaseDrive, err := locks.lockDrive(ctx)
	require.NoError(t, err)
	defer releaseDrive()

	// holding drive does not block chats/notes/contacts
	for _, acquire := range []func(context.Context) (release, error){
		locks.lockChats, locks.lockNotes, locks.lockContacts,
	} {
		rel, err := acquire(ctx)
		require.NoError(t, err)
		rel()
	}
}

func TestLockReleasedOnAllPaths(t *testing.T) {
	locks := newLockRegistry()
	ctx := context.Background()

	// simulate an operation failing mid-flight: the deferred release
	// must leave the lock acquirable
	func() {
		rel, err := locks.lockDrive(ctx)
		require.NoError(t, err)
		defer rel()
	}()

	rel, err := locks.lockDrive(ctx)
	require.NoError(t, err)
	rel()
}
