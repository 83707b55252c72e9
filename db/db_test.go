package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lineup"
	"lineup/cmd"
)

func openTestDB(t *testing.T) (*DB, *cmd.State) {
	t.Helper()
	conf := cmd.Conf{Database: cmd.DatabaseConf{File: filepath.Join(t.TempDir(), "lineup.db")}}
	st := cmd.MakeState(conf)
	d := Register(st, &st.Conf)
	t.Cleanup(d.Shutdown)
	return d, st
}

func mustBot(t *testing.T, d *DB, token string) *lineup.Bot {
	t.Helper()
	b, err := d.InsertBot(context.Background(), token)
	require.NoError(t, err)
	return b
}

func TestEncodeDecodeStateRoundTrip(t *testing.T) {
	state := lineup.NewState(4, 3)
	next, err := lineup.DropToken(state, 1, lineup.Blue)
	require.NoError(t, err)
	next, err = lineup.DropToken(next, 1, lineup.Red)
	require.NoError(t, err)

	encoded, err := EncodeState(next)
	require.NoError(t, err)

	decoded, err := DecodeState(encoded)
	require.NoError(t, err)

	assert.Equal(t, next.NextSide, decoded.NextSide)
	assert.Equal(t, next.Board.Width, decoded.Board.Width)
	assert.Equal(t, next.Board.Height, decoded.Board.Height)
	for r := range next.Board.Cells {
		for c := range next.Board.Cells[r] {
			want, got := next.Board.Cells[r][c], decoded.Board.Cells[r][c]
			if want == nil {
				assert.Nil(t, got)
			} else {
				require.NotNil(t, got)
				assert.Equal(t, *want, *got)
			}
		}
	}
}

func TestBotsWithCodeExcludesSuspendedAndCodeless(t *testing.T) {
	d, _ := openTestDB(t)
	ctx := context.Background()

	withCode := mustBot(t, d, "with-code")
	_, err := d.InsertCodeVersionAndUnsuspend(ctx, withCode.Id, "source", "Bot")
	require.NoError(t, err)

	mustBot(t, d, "no-code") // never gets a CodeVersion

	suspended := mustBot(t, d, "suspended")
	_, err = d.InsertCodeVersionAndUnsuspend(ctx, suspended.Id, "source", "Bot")
	require.NoError(t, err)
	_, err = d.commands["update-bot-suspended"].ExecContext(ctx, true, suspended.Id)
	require.NoError(t, err)

	bots, err := d.BotsWithCode(ctx)
	require.NoError(t, err)
	require.Len(t, bots, 1)
	assert.Equal(t, withCode.Id, bots[0].Id)
}

func TestInsertCodeVersionAndUnsuspendClearsSuspension(t *testing.T) {
	d, _ := openTestDB(t)
	ctx := context.Background()

	bot := mustBot(t, d, "flaky")
	_, err := d.commands["update-bot-suspended"].ExecContext(ctx, true, bot.Id)
	require.NoError(t, err)

	cv, err := d.InsertCodeVersionAndUnsuspend(ctx, bot.Id, "print(1)", "Flaky")
	require.NoError(t, err)
	assert.Equal(t, "print(1)", cv.Source)

	reloaded, err := d.BotByID(ctx, bot.Id)
	require.NoError(t, err)
	assert.False(t, reloaded.Suspended)

	latest, err := d.LatestCodeVersion(ctx, bot.Id)
	require.NoError(t, err)
	assert.Equal(t, cv.Id, latest.Id)
}

func TestSaveGameResultExceptionAttributesSuspension(t *testing.T) {
	d, _ := openTestDB(t)
	ctx := context.Background()

	blue := mustBot(t, d, "blue")
	red := mustBot(t, d, "red")
	game, err := d.CreateGameWithParticipants(ctx, blue.Id, red.Id)
	require.NoError(t, err)

	log := &lineup.GameLog{
		GameId: game.Id,
		States: []*lineup.State{lineup.NewState(4, 4)},
		Exception: &lineup.ExceptionInfo{
			Msg:          "RAISES: kaboom",
			CausedBySide: lineup.Blue,
		},
	}
	require.NoError(t, d.SaveGameResult(ctx, log))

	reloadedBlue, err := d.BotByID(ctx, blue.Id)
	require.NoError(t, err)
	assert.True(t, reloadedBlue.Suspended)

	reloadedRed, err := d.BotByID(ctx, red.Id)
	require.NoError(t, err)
	assert.False(t, reloadedRed.Suspended)

	parts, err := d.participantsByGame(ctx, d.queries["select-participants-by-game"], game.Id)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	for _, p := range parts {
		require.True(t, p.result.Valid)
		if p.side == lineup.Blue {
			assert.Equal(t, string(lineup.Crashed), p.result.String)
		} else {
			assert.Equal(t, string(lineup.OpponentCrashed), p.result.String)
		}
	}
}

func TestSaveGameResultIsIdempotent(t *testing.T) {
	d, _ := openTestDB(t)
	ctx := context.Background()

	blue := mustBot(t, d, "blue")
	red := mustBot(t, d, "red")
	game, err := d.CreateGameWithParticipants(ctx, blue.Id, red.Id)
	require.NoError(t, err)

	winner := lineup.Blue
	log := &lineup.GameLog{
		GameId: game.Id,
		States: []*lineup.State{lineup.NewState(4, 4)},
		Winner: &winner,
	}
	require.NoError(t, d.SaveGameResult(ctx, log))
	require.NoError(t, d.SaveGameResult(ctx, log)) // re-delivery: no-op

	parts, err := d.participantsByGame(ctx, d.queries["select-participants-by-game"], game.Id)
	require.NoError(t, err)
	for _, p := range parts {
		if p.side == lineup.Blue {
			assert.Equal(t, string(lineup.Victory), p.result.String)
		} else {
			assert.Equal(t, string(lineup.Loss), p.result.String)
		}
	}
}

func TestSaveGameResultTieSetsBothParticipants(t *testing.T) {
	d, _ := openTestDB(t)
	ctx := context.Background()

	blue := mustBot(t, d, "blue")
	red := mustBot(t, d, "red")
	game, err := d.CreateGameWithParticipants(ctx, blue.Id, red.Id)
	require.NoError(t, err)

	log := &lineup.GameLog{GameId: game.Id, States: []*lineup.State{lineup.NewState(2, 2)}}
	require.NoError(t, d.SaveGameResult(ctx, log))

	parts, err := d.participantsByGame(ctx, d.queries["select-participants-by-game"], game.Id)
	require.NoError(t, err)
	for _, p := range parts {
		assert.Equal(t, string(lineup.Tie), p.result.String)
	}
}

func TestParticipantInfoOrderedAscending(t *testing.T) {
	d, _ := openTestDB(t)
	ctx := context.Background()

	blue := mustBot(t, d, "blue")
	red := mustBot(t, d, "red")

	var gameIDs []string
	for i := 0; i < 3; i++ {
		g, err := d.CreateGameWithParticipants(ctx, blue.Id, red.Id)
		require.NoError(t, err)
		gameIDs = append(gameIDs, g.Id)
		winner := lineup.Blue
		require.NoError(t, d.SaveGameResult(ctx, &lineup.GameLog{
			GameId: g.Id,
			States: []*lineup.State{lineup.NewState(4, 4)},
			Winner: &winner,
		}))
		time.Sleep(2 * time.Millisecond) // force distinct created_at ordering
	}

	infos, err := d.ParticipantInfo(ctx, blue.Id, time.Time{}, 20)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	for i := 1; i < len(infos); i++ {
		assert.True(t, infos[i-1].CreatedAt.Before(infos[i].CreatedAt) || infos[i-1].CreatedAt.Equal(infos[i].CreatedAt))
	}
}

func TestLatestVersionsInfoReportsCrashOverStats(t *testing.T) {
	d, _ := openTestDB(t)
	ctx := context.Background()

	bot := mustBot(t, d, "versioned")
	opponent := mustBot(t, d, "opponent")

	_, err := d.InsertCodeVersionAndUnsuspend(ctx, bot.Id, "v1", "Bot")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	g1, err := d.CreateGameWithParticipants(ctx, bot.Id, opponent.Id)
	require.NoError(t, err)
	require.NoError(t, d.SaveGameResult(ctx, &lineup.GameLog{
		GameId: g1.Id,
		States: []*lineup.State{lineup.NewState(4, 4)},
		Exception: &lineup.ExceptionInfo{
			Msg:          "RAISES: boom",
			CausedBySide: lineup.Blue,
		},
	}))

	versions, err := d.LatestVersionsInfo(ctx, bot.Id, 20)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.NotNil(t, versions[0].Exception)
	assert.Contains(t, versions[0].Exception.Msg, "boom")
	assert.Nil(t, versions[0].Stats)
}
