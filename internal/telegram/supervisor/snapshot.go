package supervisor

// Файл snapshot.go описывает публичное состояние надзирателя соединения:
// фазу жизненного цикла, идентичность вошедшего пользователя и интерфейс
// рассылки изменений наблюдателям (веб-сокеты).

import (
	"github.com/gotd/td/tg"

	"telegram-bridge/internal/telegram/peersmgr"
)

// Phase — фаза жизненного цикла соединения.
type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
)

// UserIdentity — минимальная идентичность вошедшего пользователя для
// отображения в веб-интерфейсе.
type UserIdentity struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// Snapshot — согласованный снимок состояния соединения. Все поля читаются под
// мьютексом надзирателя и копируются наружу по значению.
type Snapshot struct {
	Connected bool
	Phase     Phase
	Session   string
	User      *UserIdentity
	LastError string
}

// Broadcaster — получатель событий жизненного цикла. Реализуется веб-хабом;
// вызовы не должны блокироваться надолго.
type Broadcaster interface {
	StatusUpdate(Snapshot)
	AskCode()
	AskPassword()
}

// Client — доступ к живому MTProto-соединению для операций фасада
// (отправка сообщений, перечисление диалогов). Выдаётся надзирателем только
// в фазе Connected; после разрыва указатель недействителен.
type Client struct {
	API    *tg.Client
	Peers  *peersmgr.Service
	SelfID int64
}

// identityOf переводит tg.User в UserIdentity.
func identityOf(u *tg.User) *UserIdentity {
	if u == nil {
		return nil
	}
	return &UserIdentity{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
		Phone:     u.Phone,
	}
}
