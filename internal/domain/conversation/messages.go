package conversation

import "fmt"

const (
	textStartLogin       = "Hi! First I need to know who you are. Send me your login."
	textLoginError       = "Something odd happened, I could not find that login. Try again!"
	textConfirmationAsk  = "Now send me the confirmation code from the portal so I know it is really you."
	textConfirmationNone = "Looks like you have not requested a Telegram binding. Start on the web portal first."
	textConfirmationBad  = "That is not your confirmation code. Let's start over!"
	textWrongDestination = "This code was not issued for a Telegram binding. Request a new one on the web portal."
	textSaved            = "Saved! This chat is now linked to your account."
	textWhoamiNone       = "I know nothing about you!"
	textInternalError    = "Something went wrong on my side. Please try again later."

	textHelp = `I know three commands:
/start begins linking this chat to your account
/whoami shows what I know about you
/help shows this text`

	buttonSave  = "Save"
	buttonReset = "Reset"
)

func textAlreadyIntegrated(name string) string {
	return fmt.Sprintf("Hi %s, this chat is already linked. Nothing more to do.", name)
}

func textFinish(name string) string {
	return fmt.Sprintf("Good, %s.\n\nIf everything is right press %q to continue. If something is wrong press %q to start again.",
		name, buttonSave, buttonReset)
}

func textWhoami(login, name string) string {
	return fmt.Sprintf("Here is what I know about you:\nLogin: %s\nName: %s", login, name)
}

func finishKeyboard() []Button {
	return []Button{
		{Text: buttonSave, Data: CallbackSave},
		{Text: buttonReset, Data: CallbackReset},
	}
}
