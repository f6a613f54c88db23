package menu

import (
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v3"

	"button-hunt-bot/internal/model"
)

// Callback data prefixes
const (
	CallbackMenuCode     = "menu_code"
	CallbackMenuList     = "menu_list"
	CallbackMenuSpecials = "menu_specials"
	CallbackConfirmKick  = "confirm_kick:" // confirm_kick:<telegram_id>
	CallbackKick         = "kick:"         // kick:<telegram_id>
	CallbackCancelKick   = "cancel_kick"
	CallbackUseSpecial   = "use_special:" // use_special:<button_id>
	CallbackBackToMenu   = "back_to_menu"

	CallbackStartGame    = "start_game"
	CallbackEndGame      = "end_game"
	CallbackResetGame    = "reset_game"
	CallbackAddCodes     = "add_codes"
	CallbackPlayerList   = "player_list"
	CallbackShowPairs    = "show_pairs"
	CallbackShufflePairs = "shuffle_pairs"
	CallbackButtonStatus = "button_status"
)

// StartText is the label of the persistent reply button.
const StartText = "Начать"

// StartKeyboard builds the persistent reply keyboard with the single
// "Начать" button so players can always get back to the menu.
func StartKeyboard() *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{ResizeKeyboard: true}
	markup.Reply(markup.Row(markup.Text(StartText)))
	return markup
}

// BuildPlayerMenu creates the in-round action menu for a live player.
func BuildPlayerMenu(heldSpecials int) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}

	rows := []tele.Row{
		markup.Row(markup.Data("Ввести код", CallbackMenuCode)),
		markup.Row(markup.Data("Список противников", CallbackMenuList)),
	}
	if heldSpecials > 0 {
		rows = append(rows, markup.Row(markup.Data(
			fmt.Sprintf("Бонусы ⭐ (%d)", heldSpecials),
			CallbackMenuSpecials,
		)))
	}

	markup.Inline(rows...)
	return markup
}

// BuildAdminMenu creates the admin action menu for the current phase.
func BuildAdminMenu(phase model.Phase) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}

	var actions []tele.Btn
	switch phase {
	case model.PhaseWaiting:
		actions = append(actions,
			markup.Data("Начать игру", CallbackStartGame),
			markup.Data("Добавить коды", CallbackAddCodes),
		)
	case model.PhaseRunning:
		actions = append(actions,
			markup.Data("Закончить игру", CallbackEndGame),
			markup.Data("Сбросить игру", CallbackResetGame),
			markup.Data("Добавить коды", CallbackAddCodes),
		)
	default:
		actions = append(actions, markup.Data("Сбросить игру", CallbackResetGame))
	}
	actions = append(actions, markup.Data("Игроки", CallbackPlayerList))

	markup.Inline(
		markup.Row(actions...),
		markup.Row(
			markup.Data("Пары", CallbackShowPairs),
			markup.Data("Статус кнопок", CallbackButtonStatus),
		),
	)
	return markup
}

// BuildOpponentList creates the kick-target picker from discovered
// opponents, one circle per row.
func BuildOpponentList(opponents []*model.Player) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}

	rows := make([]tele.Row, 0, len(opponents)+1)
	for _, o := range opponents {
		rows = append(rows, markup.Row(markup.Data(
			NumberToSquare(o.ButtonNumber),
			CallbackConfirmKick+strconv.FormatInt(o.TelegramID, 10),
		)))
	}
	rows = append(rows, markup.Row(markup.Data("Назад", CallbackBackToMenu)))

	markup.Inline(rows...)
	return markup
}

// BuildConfirmKick creates the yes/no confirmation for a kick.
func BuildConfirmKick(targetID int64) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	markup.Inline(markup.Row(
		markup.Data("Да", CallbackKick+strconv.FormatInt(targetID, 10)),
		markup.Data("Нет", CallbackCancelKick),
	))
	return markup
}

// BuildSpecialsList creates the picker over a player's held bonus buttons.
func BuildSpecialsList(buttons []*model.Button) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}

	rows := make([]tele.Row, 0, len(buttons)+1)
	for i, b := range buttons {
		rows = append(rows, markup.Row(markup.Data(
			fmt.Sprintf("%s Бонус %d", b.Circle, i+1),
			CallbackUseSpecial+strconv.FormatInt(b.ID, 10),
		)))
	}
	rows = append(rows, markup.Row(markup.Data("Назад", CallbackBackToMenu)))

	markup.Inline(rows...)
	return markup
}

// BuildPairsPanel creates the actions shown under the pairs view.
func BuildPairsPanel() *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	markup.Inline(
		markup.Row(markup.Data("Перемешать пары", CallbackShufflePairs)),
		markup.Row(markup.Data("Назад", CallbackBackToMenu)),
	)
	return markup
}

// BuildBackPanel creates a lone "Назад" button.
func BuildBackPanel() *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	markup.Inline(markup.Row(markup.Data("Назад", CallbackBackToMenu)))
	return markup
}

// FormatPlayerList renders the admin roster view, code included when the
// player's slot carries one.
func FormatPlayerList(players []*model.Player, codes map[int64]string) string {
	if len(players) == 0 {
		return "Нет подключенных игроков."
	}

	var sb strings.Builder
	sb.WriteString("Подключенные игроки:")
	for _, p := range players {
		code, ok := codes[p.TelegramID]
		if !ok || code == "" {
			code = "-"
		}
		status := "в игре ✅"
		if !p.Alive {
			status = "заблокирован 🚫"
		}
		sb.WriteString(fmt.Sprintf(
			"\n%s %s %s %s",
			p.Name(), NumberToSquare(p.ButtonNumber), code, status,
		))
	}
	return sb.String()
}

// FormatPairs renders the number-to-circle assignment of every slot.
func FormatPairs(buttons []*model.Button, shuffledHeader bool) string {
	var sb strings.Builder
	if shuffledHeader {
		sb.WriteString("Пары перемешаны:")
	} else {
		sb.WriteString("Пары:")
	}
	for _, b := range buttons {
		state := "свободна"
		if b.Blocked {
			state = "заблокирована"
		} else if b.Taken {
			state = "занята"
		}
		sb.WriteString(fmt.Sprintf("\n%s - %s %s", NumberToSquare(b.Number), b.Circle, state))
	}
	return sb.String()
}

// FormatButtonStatus renders the per-slot round status for the admin.
// Owners maps slot owner ids to their player records.
func FormatButtonStatus(buttons []*model.Button, owners map[int64]*model.Player) string {
	var lines []string
	for _, b := range buttons {
		if !b.Taken || b.OwnerID == nil {
			continue
		}
		owner, ok := owners[*b.OwnerID]
		if !ok {
			continue
		}

		status := "Есть игрок 👤, "
		switch {
		case !owner.Alive || b.Blocked:
			status += "Заблокирована 🚫"
		case b.CodeUsed:
			status += "На руках ✋"
		default:
			status += "В игре ⛳"
		}
		lines = append(lines, fmt.Sprintf("%s %s - %s", NumberToSquare(b.Number), b.Circle, status))
	}
	if len(lines) == 0 {
		return "Нет занятых кнопок."
	}
	return strings.Join(lines, "\n")
}
