package sandbox

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lineup"
)

type fixedBot struct {
	move  int
	err   error
	sleep time.Duration
}

func (b *fixedBot) MakeMove(state *lineup.State) (int, error) {
	if b.sleep > 0 {
		time.Sleep(b.sleep)
	}
	if b.err != nil {
		return 0, b.err
	}
	return b.move, nil
}

func newInProcess(newBot func(lineup.Code, lineup.Side) (lineup.BotInstance, error)) *InProcess {
	return &InProcess{
		InitTimeout: 50 * time.Millisecond,
		MoveTimeout: 30 * time.Millisecond,
		New:         newBot,
	}
}

func TestInProcessInitFailed(t *testing.T) {
	p := newInProcess(func(lineup.Code, lineup.Side) (lineup.BotInstance, error) {
		return nil, errors.New("boom")
	})
	bot, exc := p.Init(lineup.Code{}, lineup.Blue)
	assert.Nil(t, bot)
	require.NotNil(t, exc)
	assert.Equal(t, lineup.Blue, exc.CausedBySide)
	assert.Contains(t, exc.Msg, string(InitFailed))
}

func TestInProcessInitTimedOut(t *testing.T) {
	p := newInProcess(func(lineup.Code, lineup.Side) (lineup.BotInstance, error) {
		time.Sleep(200 * time.Millisecond)
		return &fixedBot{}, nil
	})
	bot, exc := p.Init(lineup.Code{}, lineup.Red)
	assert.Nil(t, bot)
	require.NotNil(t, exc)
	assert.Contains(t, exc.Msg, string(InitTimedOut))
}

func TestInProcessInitSucceeds(t *testing.T) {
	p := newInProcess(func(lineup.Code, lineup.Side) (lineup.BotInstance, error) {
		return &fixedBot{move: 3}, nil
	})
	bot, exc := p.Init(lineup.Code{}, lineup.Blue)
	require.Nil(t, exc)
	require.NotNil(t, bot)
}

func TestInProcessInvokeMoveRaises(t *testing.T) {
	p := newInProcess(nil)
	bot := &fixedBot{err: errors.New("kaboom")}
	state := lineup.NewState(7, 7)
	move, exc := p.InvokeMove(bot, state)
	assert.Equal(t, 0, move)
	require.NotNil(t, exc)
	assert.Equal(t, lineup.Blue, exc.CausedBySide)
	assert.Contains(t, exc.Msg, string(Raises))
}

func TestInProcessInvokeMoveHangs(t *testing.T) {
	p := newInProcess(nil)
	bot := &fixedBot{sleep: 200 * time.Millisecond}
	state := lineup.NewState(7, 7)
	_, exc := p.InvokeMove(bot, state)
	require.NotNil(t, exc)
	assert.Contains(t, exc.Msg, string(Hangs))
	assert.Nil(t, exc.Move)
}

func TestInProcessInvokeMoveSucceeds(t *testing.T) {
	p := newInProcess(nil)
	bot := &fixedBot{move: 2}
	state := lineup.NewState(7, 7)
	move, exc := p.InvokeMove(bot, state)
	assert.Nil(t, exc)
	assert.Equal(t, 2, move)
}

func TestValidateMoveOutOfBounds(t *testing.T) {
	state := lineup.NewState(7, 7)
	for _, move := range []int{-1, 7, 99} {
		exc := ValidateMove(state, move, lineup.Blue)
		require.NotNil(t, exc)
		assert.Contains(t, exc.Msg, string(InvalidMove))
		assert.Equal(t, move, exc.Move)
	}
}

func TestValidateMoveColumnFull(t *testing.T) {
	state := lineup.NewState(1, 1)
	state, err := lineup.DropToken(state, 0, lineup.Blue)
	require.NoError(t, err)

	exc := ValidateMove(state, 0, lineup.Red)
	require.NotNil(t, exc)
	assert.Contains(t, exc.Msg, string(MoveBreaksRules))
	assert.Equal(t, 0, exc.Move)
}

func TestValidateMoveLegal(t *testing.T) {
	state := lineup.NewState(7, 7)
	assert.Nil(t, ValidateMove(state, 3, lineup.Blue))
}
