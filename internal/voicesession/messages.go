package voicesession

import (
	"errors"
	"strings"

	"github.com/FlavioMarcoHaux/MiniMax/internal/friendly"
	"github.com/FlavioMarcoHaux/MiniMax/internal/schedule"
	"github.com/FlavioMarcoHaux/MiniMax/pkg/audio"
	"github.com/FlavioMarcoHaux/MiniMax/pkg/provider/s2s"
)

// User-facing error messages.
const (
	PermissionDeniedMessage = "Permissão para usar o microfone foi negada. Por favor, habilite o acesso nas configurações do seu navegador."
	DeviceNotFoundMessage   = "Nenhum microfone foi encontrado. Por favor, conecte um microfone e tente novamente."
	SystemDeniedMessage     = "Acesso ao microfone negado pelo sistema. Verifique se o navegador tem permissão para usar o microfone nas configurações de privacidade do seu sistema operacional (Windows/macOS)."
	UnexpectedMicMessage    = "Ocorreu um erro inesperado ao tentar acessar o microfone."
	ConnectionFailedMessage = "A conexão falhou. Por favor, tente novamente."
)

// ConfirmToolName is the function the model calls once the user is ready
// for the activity to begin.
const ConfirmToolName = "confirmSessionStart"

// confirmTool declares [ConfirmToolName] to the model.
var confirmTool = s2s.FunctionDeclaration{
	Name:        ConfirmToolName,
	Description: "Chame esta função quando o usuário confirmar que está pronto para começar a sessão.",
}

// acquisitionMessage categorises a device acquisition failure.
func acquisitionMessage(err error) string {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return PermissionDeniedMessage
	case errors.Is(err, audio.ErrDeviceNotFound):
		return DeviceNotFoundMessage
	case errors.Is(err, audio.ErrSystemDenied):
		return SystemDeniedMessage
	default:
		return friendly.Message(err, UnexpectedMicMessage)
	}
}

// Instructions returns the system prompt for the mentor call preceding
// activity.
func Instructions(activity schedule.Activity) string {
	name := activity.Title()
	var b strings.Builder
	b.WriteString("Você é um mentor de bem-estar acolhedor e sereno que está ligando para o usuário ")
	b.WriteString("no horário que ele agendou para a sua ")
	b.WriteString(name)
	b.WriteString(". Cumprimente o usuário pelo nome se souber, lembre-o de que este é o momento reservado para a ")
	b.WriteString(name)
	b.WriteString(" e pergunte, em uma ou duas frases curtas, se ele está pronto para começar. ")
	b.WriteString("Quando o usuário confirmar que está pronto, chame a função ")
	b.WriteString(ConfirmToolName)
	b.WriteString(" sem dizer mais nada. Se ele pedir para adiar, despeça-se com gentileza. ")
	b.WriteString("Fale sempre em Português do Brasil.")
	return b.String()
}

// statusText renders the screen headline for st.
func statusText(st Status, activity schedule.Activity, errMsg string) string {
	switch st {
	case StatusIdle:
		return "Seu mentor está chamando para sua " + activity.Title() + "."
	case StatusConnecting:
		return "Conectando..."
	case StatusConnected:
		return "Conectado. O mentor iniciará a conversa."
	case StatusTransitioning:
		return "Iniciando sua " + activity.Title() + "..."
	case StatusError:
		return "Erro: " + errMsg
	default:
		return ""
	}
}
