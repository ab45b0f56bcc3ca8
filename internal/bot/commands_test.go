package bot

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/alicebob/miniredis/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrimpsizemoose/tasksync/internal/app"
	"github.com/shrimpsizemoose/tasksync/internal/models"
	"github.com/shrimpsizemoose/tasksync/internal/remote"
)

const (
	adminID = int64(100)
	guestID = int64(200)
)

func command(from int64, text string) *tgbotapi.Message {
	cmd := strings.Fields(text)[0]
	return &tgbotapi.Message{
		Text:     text,
		From:     &tgbotapi.User{ID: from},
		Chat:     &tgbotapi.Chat{ID: from},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: utf8.RuneCountInString(cmd)}},
	}
}

func setup(t *testing.T) (*Bot, *models.Task) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"actor": {"account": {"name": "GSSO_uni_7"}}, "object": {"id": "worksheet-1"},
			 "result": {"score": {"raw": 0.5}}, "timestamp": "2023-11-14T00:00:00Z"},
			{"actor": {"account": {"name": "GSSO_uni_7"}}, "object": {"id": "worksheet-1"},
			 "result": {"score": {"raw": 0.9}}, "timestamp": "2023-11-20T00:00:00Z"}
		]`))
	}))
	t.Cleanup(srv.Close)

	cfg, err := app.ParseConfig([]byte(`[server]
port = ":0"
[database]
dsn = ":memory:"
migrations_dir = "../../migrations"
`))
	require.NoError(t, err)
	cfg.Remote.Servers = []remote.ServerConfig{{Name: "main", URL: srv.URL, Org: "uni"}}
	service, err := app.NewServiceFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { service.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	botCfg := &Config{}
	botCfg.Bot.AdminIDs = []int64{adminID}
	botCfg.Bot.Timezone = "UTC"
	b, err := newBot(botCfg, service, app.NewTokenManager(client, service.Config.Auth.TokenKeyTemplate))
	require.NoError(t, err)

	shared := false
	task := &models.Task{
		CourseID: 10, ServerRef: "main", RemoteCourse: "algebra", RemoteTask: "worksheet-1",
		Duedate: 1700000000, IsGraded: true, PrivateGradePool: &shared,
	}
	require.NoError(t, service.CreateTask(context.Background(), task))
	require.NoError(t, service.Store.Enroll(context.Background(), 10, 7))
	return b, task
}

func TestDispatch_Access(t *testing.T) {
	b, task := setup(t)
	ctx := context.Background()

	assert.Equal(t, guestHelp, b.dispatch(ctx, command(guestID, fmt.Sprintf("/sync %d", task.ID))))
	assert.Equal(t, adminHelp, b.dispatch(ctx, command(adminID, "/help")))
	assert.Contains(t, b.dispatch(ctx, command(guestID, "/start")), "только операторам")
	assert.Contains(t, b.dispatch(ctx, &tgbotapi.Message{Text: "hi", From: &tgbotapi.User{ID: adminID}}), "/help")
}

func TestToken(t *testing.T) {
	b, _ := setup(t)
	ctx := context.Background()

	first := b.dispatch(ctx, command(adminID, "/token"))
	assert.Contains(t, first, "Новый токен")
	second := b.dispatch(ctx, command(adminID, "/token"))
	assert.Contains(t, second, "Твой токен")
	assert.Contains(t, second, "Запросов: 2")
}

func TestExtensionCommands(t *testing.T) {
	b, task := setup(t)
	ctx := context.Background()

	reply := b.dispatch(ctx, command(adminID, fmt.Sprintf("/extension set %d 7 2023-11-25", task.ID)))
	assert.Contains(t, reply, "добавлено")
	assert.Contains(t, reply, "2023-11-25 23:59")

	due, err := b.service.Duedates.EffectiveDuedate(ctx, 7, task)
	require.NoError(t, err)
	assert.Equal(t, int64(1700956799), due)

	reply = b.dispatch(ctx, command(adminID, fmt.Sprintf("/extension set %d 7 2023-11-26", task.ID)))
	assert.Contains(t, reply, "обновлено")

	reply = b.dispatch(ctx, command(adminID, fmt.Sprintf("/extension list %d", task.ID)))
	assert.Contains(t, reply, "7: 2023-11-26")

	reply = b.dispatch(ctx, command(adminID, fmt.Sprintf("/extension set %d 7 26.11.2023", task.ID)))
	assert.Contains(t, reply, "Ошибка")

	reply = b.dispatch(ctx, command(adminID, fmt.Sprintf("/extension revoke %d 7", task.ID)))
	assert.Contains(t, reply, "отменено")
	reply = b.dispatch(ctx, command(adminID, fmt.Sprintf("/extension revoke %d 7", task.ID)))
	assert.Contains(t, reply, "нет продления")

	reply = b.dispatch(ctx, command(adminID, "/extension list 999"))
	assert.Contains(t, reply, "Ошибка")
}

func TestSyncAndOverrideCommands(t *testing.T) {
	b, task := setup(t)
	ctx := context.Background()

	reply := b.dispatch(ctx, command(adminID, fmt.Sprintf("/sync %d", task.ID)))
	assert.Contains(t, reply, "synced")
	assert.Contains(t, reply, "записано 1")

	grade, err := b.service.Store.GetGrade(ctx, task.ID, 7)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, grade.RawGrade, 1e-9)

	reply = b.dispatch(ctx, command(adminID, fmt.Sprintf("/events %d 7", task.ID)))
	assert.Contains(t, reply, "⏰ 90.00 @ 1700438400")

	reply = b.dispatch(ctx, command(adminID, fmt.Sprintf("/override %d 7 91 1700438400", task.ID)))
	assert.Contains(t, reply, "такой попытки нет")

	reply = b.dispatch(ctx, command(adminID, fmt.Sprintf("/override %d 7 90 1700438400", task.ID)))
	assert.Contains(t, reply, "✅")

	grade, err = b.service.Store.GetGrade(ctx, task.ID, 7)
	require.NoError(t, err)
	assert.InDelta(t, 90.0, grade.RawGrade, 1e-9)
	assert.Equal(t, adminID, grade.OverriddenBy)

	reply = b.dispatch(ctx, command(adminID, "/sync course 10"))
	assert.Contains(t, reply, "Курс 10")
}

func TestTaskCommands(t *testing.T) {
	b, task := setup(t)
	ctx := context.Background()

	reply := b.dispatch(ctx, command(adminID, "/task list 10"))
	assert.Contains(t, reply, fmt.Sprintf("#%d algebra/worksheet-1", task.ID))
	assert.Contains(t, reply, "пул: общий")

	reply = b.dispatch(ctx, command(adminID, fmt.Sprintf("/task pool %d private", task.ID)))
	assert.Contains(t, reply, "private")
	updated, err := b.service.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, updated.IsPrivatePool())

	reply = b.dispatch(ctx, command(adminID, fmt.Sprintf("/task pool %d mine", task.ID)))
	assert.Contains(t, reply, "Ошибка")

	reply = b.dispatch(ctx, command(adminID, "/task list 11"))
	assert.Equal(t, "Задания не найдены", reply)
}
