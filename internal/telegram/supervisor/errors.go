package supervisor

import "github.com/go-faster/errors"

// Ошибки жизненного цикла соединения. Терминальные ошибки попытки попадают в
// Snapshot.LastError и транслируются наблюдателям; ErrMissingPhone и
// ErrNotConnected возвращаются синхронно из операций.
var (
	// ErrMissingPhone — запрошено подключение новой сессии без номера телефона.
	ErrMissingPhone = errors.New("phone number required for new session")
	// ErrInvalidSession — файл сессии не прошёл проверку авторизации и удалён.
	ErrInvalidSession = errors.New("session is invalid or expired")
	// ErrAuthTimeout — код или пароль не пришли от веб-клиента за отведённое время.
	ErrAuthTimeout = errors.New("authentication timed out waiting for input")
	// ErrAuthorizationFailed — вход завершился, но авторизация не подтвердилась.
	ErrAuthorizationFailed = errors.New("authorization failed")
	// ErrNotConnected — операция требует живого соединения, а его нет.
	ErrNotConnected = errors.New("not connected")
)
