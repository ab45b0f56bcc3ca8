package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/tasksync/internal/models"
	"github.com/shrimpsizemoose/tasksync/internal/reconcile"
)

const (
	commandTimeout = 2 * time.Minute
	dateLayout     = "2006-01-02"

	guestHelp = `Этот бот для операторов курса.
/help - Показать это сообщение`

	adminHelp = `Доступные команды:
/token - Получить токен для доступа к API
/task list <course> - Задания курса
/task pool <task> private|shared - Решить, чьи оценки учитывать
/extension set <task> <user> <YYYY-MM-DD> - Продлить дедлайн
/extension revoke <task> <user> - Отменить продление
/extension list <task> - Список продлений
/sync <task> [user] - Синхронизировать оценки задания
/sync course <course> - Синхронизировать весь курс
/events <task> <user> - Попытки студента
/override <task> <user> <grade> <timestamp> - Поставить оценку за конкретную попытку
/help - Показать это сообщение

Примеры:
/extension set 42 1001 2024-12-01
/sync 42
/override 42 1001 87 1700000500`
)

type commandHandler func(ctx context.Context, msg *tgbotapi.Message) (string, error)

func (b *Bot) routeGuestCommands(cmd string) (commandHandler, bool) {
	commands := map[string]commandHandler{
		"start": b.handleStart,
		"help":  b.handleHelp,
	}
	handler, found := commands[cmd]
	return handler, found
}

func (b *Bot) routeAdminCommands(cmd string) (commandHandler, bool) {
	commands := map[string]commandHandler{
		"token":     b.handleToken,
		"task":      b.handleTask,
		"extension": b.handleExtension,
		"sync":      b.handleSync,
		"events":    b.handleEvents,
		"override":  b.handleOverride,
	}
	handler, found := commands[cmd]
	return handler, found
}

// dispatch runs the command and returns the reply text.
func (b *Bot) dispatch(ctx context.Context, msg *tgbotapi.Message) string {
	if !msg.IsCommand() {
		return "Используйте команды для взаимодействия с ботом. Отправьте /help для списка команд."
	}

	cmd := msg.Command()
	handler, ok := b.routeGuestCommands(cmd)
	if !ok && b.admins[msg.From.ID] {
		handler, ok = b.routeAdminCommands(cmd)
	}
	if !ok {
		return guestHelp
	}

	reply, err := handler(ctx, msg)
	if err != nil {
		logger.Error.Printf("Command /%s from %d failed: %v", cmd, msg.From.ID, err)
		return fmt.Sprintf("Ошибка: %v", err)
	}
	return reply
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := b.sendMessage(msg.Chat.ID, b.dispatch(ctx, msg)); err != nil {
		logger.Error.Printf("Failed to reply to %d: %v", msg.Chat.ID, err)
	}
}

func (b *Bot) handleHelp(ctx context.Context, msg *tgbotapi.Message) (string, error) {
	if b.admins[msg.From.ID] {
		return adminHelp, nil
	}
	return guestHelp, nil
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) (string, error) {
	text := "Привет! Я помогаю синхронизировать оценки курса.\n\n"
	if b.admins[msg.From.ID] {
		return text + "Ты оператор курса. Используй /help для списка команд.", nil
	}
	return text + "Команды доступны только операторам.", nil
}

func (b *Bot) operatorID(ctx context.Context, msg *tgbotapi.Message) (int64, error) {
	if b.tokens == nil {
		return msg.From.ID, nil
	}
	return b.tokens.FetchOperatorByTelegram(ctx, msg.From.ID)
}

func (b *Bot) handleToken(ctx context.Context, msg *tgbotapi.Message) (string, error) {
	if b.tokens == nil {
		return "", fmt.Errorf("токены не настроены")
	}
	operatorID, err := b.operatorID(ctx, msg)
	if err != nil {
		return "", err
	}
	info, created, err := b.tokens.FetchOrCreateOperatorToken(ctx, operatorID)
	if err != nil {
		return "", err
	}

	action := "Твой токен"
	if created {
		action = "Новый токен"
	}
	return fmt.Sprintf("%s: %s\nОператор: %d\nЗапросов: %d",
		action, info.Token, operatorID, info.RequestCount), nil
}

func parseID(value, what string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("некорректный %s: %s", what, value)
	}
	return id, nil
}

func (b *Bot) loadTask(ctx context.Context, value string) (*models.Task, error) {
	taskID, err := parseID(value, "id задания")
	if err != nil {
		return nil, err
	}
	return b.service.GetTask(ctx, taskID)
}

func (b *Bot) formatTime(ts int64) string {
	if ts == 0 {
		return "без дедлайна"
	}
	return time.Unix(ts, 0).In(b.loc).Format("2006-01-02 15:04 MST")
}

func (b *Bot) handleTask(ctx context.Context, msg *tgbotapi.Message) (string, error) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) < 2 {
		return "Использование:\n" +
			"/task list <course>\n" +
			"/task pool <task> private|shared", nil
	}

	switch args[0] {
	case "list":
		courseID, err := parseID(args[1], "id курса")
		if err != nil {
			return "", err
		}
		tasks, err := b.service.Store.ListCourseTasks(ctx, courseID)
		if err != nil {
			return "", err
		}
		if len(tasks) == 0 {
			return "Задания не найдены", nil
		}
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Задания курса %d:\n\n", courseID))
		for _, t := range tasks {
			pool := "не выбран"
			if !t.PoolPending() {
				pool = "общий"
				if t.IsPrivatePool() {
					pool = "свой"
				}
			}
			sb.WriteString(fmt.Sprintf("📝 #%d %s/%s (%s)\n📅 %s, баллы: %.0f, пул: %s\n\n",
				t.ID, t.RemoteCourse, t.RemoteTask, t.ServerRef, b.formatTime(t.Duedate), t.Points, pool))
		}
		return sb.String(), nil

	case "pool":
		if len(args) < 3 {
			return "", fmt.Errorf("использование: /task pool <task> private|shared")
		}
		task, err := b.loadTask(ctx, args[1])
		if err != nil {
			return "", err
		}
		var private bool
		switch args[2] {
		case "private":
			private = true
		case "shared":
		default:
			return "", fmt.Errorf("ожидается private или shared, а не %s", args[2])
		}
		if _, err := b.service.SetGradePool(ctx, task.ID, private); err != nil {
			return "", err
		}
		return fmt.Sprintf("✅ Пул оценок задания #%d: %s", task.ID, args[2]), nil

	default:
		return "", fmt.Errorf("неизвестная подкоманда: %s", args[0])
	}
}

func (b *Bot) handleExtension(ctx context.Context, msg *tgbotapi.Message) (string, error) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) < 2 {
		return "Использование:\n" +
			"/extension set <task> <user> <YYYY-MM-DD>\n" +
			"/extension revoke <task> <user>\n" +
			"/extension list <task>", nil
	}

	task, err := b.loadTask(ctx, args[1])
	if err != nil {
		return "", err
	}

	switch args[0] {
	case "set":
		if len(args) < 4 {
			return "", fmt.Errorf("использование: /extension set <task> <user> <YYYY-MM-DD>")
		}
		userID, err := parseID(args[2], "id пользователя")
		if err != nil {
			return "", err
		}
		day, err := time.ParseInLocation(dateLayout, args[3], b.loc)
		if err != nil {
			return "", fmt.Errorf("некорректная дата (используйте YYYY-MM-DD): %v", err)
		}
		deadline := time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, b.loc)

		ext, created, err := b.service.Duedates.SetExtension(ctx, userID, task.ID, deadline.Unix())
		if err != nil {
			return "", err
		}
		action := "обновлено"
		if created {
			action = "добавлено"
		}
		return fmt.Sprintf("✅ Продление для %d по заданию #%d %s:\nДедлайн: %s",
			ext.UserID, task.ID, action, b.formatTime(ext.Duedate)), nil

	case "revoke":
		if len(args) < 3 {
			return "", fmt.Errorf("использование: /extension revoke <task> <user>")
		}
		userID, err := parseID(args[2], "id пользователя")
		if err != nil {
			return "", err
		}
		revoked, err := b.service.Duedates.RevokeExtension(ctx, userID, task.ID)
		if err != nil {
			return "", err
		}
		if !revoked {
			return fmt.Sprintf("У %d нет продления по заданию #%d", userID, task.ID), nil
		}
		return fmt.Sprintf("✅ Продление для %d по заданию #%d отменено", userID, task.ID), nil

	case "list":
		exts, err := b.service.Duedates.ListExtensions(ctx, task.ID)
		if err != nil {
			return "", err
		}
		if len(exts) == 0 {
			return "Продлений нет", nil
		}
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Продления задания #%d (дедлайн %s):\n\n", task.ID, b.formatTime(task.Duedate)))
		for _, e := range exts {
			sb.WriteString(fmt.Sprintf("👉🏻 %d: %s\n", e.UserID, b.formatTime(e.Duedate)))
		}
		return sb.String(), nil

	default:
		return "", fmt.Errorf("неизвестная подкоманда: %s", args[0])
	}
}

func (b *Bot) handleSync(ctx context.Context, msg *tgbotapi.Message) (string, error) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) < 1 {
		return "Использование:\n/sync <task> [user]\n/sync course <course>", nil
	}

	if args[0] == "course" {
		if len(args) < 2 {
			return "", fmt.Errorf("укажи курс: /sync course 10")
		}
		courseID, err := parseID(args[1], "id курса")
		if err != nil {
			return "", err
		}
		results, err := b.service.Reconciler.ReconcileCourse(ctx, courseID)
		if err != nil {
			return "", err
		}
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Курс %d:\n", courseID))
		for _, r := range results {
			sb.WriteString(formatResult(r))
		}
		return sb.String(), nil
	}

	task, err := b.loadTask(ctx, args[0])
	if err != nil {
		return "", err
	}
	userID := reconcile.AllUsers
	if len(args) > 1 {
		if userID, err = parseID(args[1], "id пользователя"); err != nil {
			return "", err
		}
	}
	res, err := b.service.Reconciler.Reconcile(ctx, task, userID)
	if err != nil {
		return "", err
	}
	return formatResult(res), nil
}

func formatResult(r *reconcile.Result) string {
	return fmt.Sprintf("#%d: %s, пользователей %d, попыток %d, записано %d\n",
		r.TaskID, r.Status, r.Users, r.Events, r.Written)
}

func (b *Bot) handleEvents(ctx context.Context, msg *tgbotapi.Message) (string, error) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) < 2 {
		return "", fmt.Errorf("использование: /events <task> <user>")
	}
	task, err := b.loadTask(ctx, args[0])
	if err != nil {
		return "", err
	}
	userID, err := parseID(args[1], "id пользователя")
	if err != nil {
		return "", err
	}

	events, err := b.service.Reconciler.UserGradeEvents(ctx, task, userID)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return "Попыток нет", nil
	}

	deadline, err := b.service.Duedates.EffectiveDuedate(ctx, userID, task)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Попытки %d по заданию #%d (дедлайн %s):\n\n", userID, task.ID, b.formatTime(deadline)))
	for _, e := range events {
		mark := "✅"
		if deadline > 0 && e.Timestamp > deadline {
			mark = "⏰"
		}
		sb.WriteString(fmt.Sprintf("%s %.2f @ %d (%s)\n", mark, e.Raw*task.Points, e.Timestamp, b.formatTime(e.Timestamp)))
	}
	return sb.String(), nil
}

func (b *Bot) handleOverride(ctx context.Context, msg *tgbotapi.Message) (string, error) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) < 4 {
		return "", fmt.Errorf("использование: /override <task> <user> <grade> <timestamp>")
	}
	task, err := b.loadTask(ctx, args[0])
	if err != nil {
		return "", err
	}
	userID, err := parseID(args[1], "id пользователя")
	if err != nil {
		return "", err
	}
	grade, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return "", fmt.Errorf("некорректная оценка: %v", err)
	}
	ts, err := strconv.ParseInt(args[3], 10, 64)
	if err != nil {
		return "", fmt.Errorf("некорректный timestamp: %v", err)
	}
	operatorID, err := b.operatorID(ctx, msg)
	if err != nil {
		return "", err
	}

	saved, err := b.service.Reconciler.Override(ctx, task, userID, models.GradeOverride{RawGrade: grade, Timestamp: ts}, operatorID)
	if errors.Is(err, reconcile.ErrInvalidOverride) {
		return "", fmt.Errorf("такой попытки нет, посмотри /events %d %d", task.ID, userID)
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Оценка %d по заданию #%d: %.2f (попытка %s), поставил %d",
		userID, task.ID, saved.RawGrade, b.formatTime(saved.TimeCreated), operatorID), nil
}

func (b *Bot) sendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := b.api.Send(msg)
	return err
}
