package commands

import tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

// Definitions returns the commands shown in the Telegram command menu
func Definitions() []tgbotapi.BotCommand {
	return []tgbotapi.BotCommand{
		{
			Command:     "start",
			Description: "Link this chat to your account",
		},
		{
			Command:     "whoami",
			Description: "Show the account linked to this chat",
		},
		{
			Command:     "help",
			Description: "Show help",
		},
	}
}
