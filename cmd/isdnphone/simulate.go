package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/arzzra/isdn_phone/pkg/capi"
	"github.com/arzzra/isdn_phone/pkg/capi/mocktransport"
	"github.com/arzzra/isdn_phone/pkg/fax"
	"github.com/arzzra/isdn_phone/pkg/phone"
)

var (
	flagSource   string
	flagTarget   string
	flagDuration time.Duration
	flagTones    string
	flagSpool    string
	flagFax      bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Прогнать сценарий вызова на эмулируемом контроллере",
	Long: `Поднимает сессию движка на программном транспорте с эмулируемым
контроллером, выполняет исходящий вызов, передает тоновые символы и
завершает вызов. Полезно для проверки конфигурации и наблюдения за
жизненным циклом вызова без оборудования.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVar(&flagSource, "source", "100", "собственный номер")
	simulateCmd.Flags().StringVar(&flagTarget, "target", "0123456789", "вызываемый номер")
	simulateCmd.Flags().DurationVar(&flagDuration, "duration", 2*time.Second, "длительность разговора")
	simulateCmd.Flags().StringVar(&flagTones, "tones", "", "тоновые символы для передачи после установления")
	simulateCmd.Flags().StringVar(&flagSpool, "spool", "spool", "каталог спула факсовых документов")
	simulateCmd.Flags().BoolVar(&flagFax, "fax", false, "факсовый вызов вместо телефонного")
}

// printEvents печатает уведомления движка пользователю.
type printEvents struct {
	log *logrus.Logger
}

func (p *printEvents) OnRinging(conn *capi.Connection) {
	fmt.Printf("<< сигнал вызова: %s -> %s\n", conn.Source(), conn.Target())
}

func (p *printEvents) OnConnected(conn *capi.Connection) {
	fmt.Printf("<< соединение установлено: %s -> %s\n", conn.Source(), conn.Target())
}

func (p *printEvents) OnDisconnected(conn *capi.Connection) {
	fmt.Printf("<< вызов завершен: причина 0x%04X\n", conn.DisconnectReason())
}

func (p *printEvents) OnStatus(code uint16, conn *capi.Connection) {
	fmt.Printf("<< код состояния 0x%04X\n", code)
}

func (p *printEvents) OnMessage(title, body string) {
	fmt.Printf("<< %s: %s\n", title, body)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.PollTimeout = 50 * time.Millisecond

	logger := capi.NewLogger(cfg.Logging)

	transport := mocktransport.New()
	transport.OnSend = mocktransport.NewResponder().Respond

	phoneHandler := phone.NewHandler(&phone.ToneDevice{Freq: 425}, phone.DefaultConfig(), logger)
	phoneHandler.OnTone = func(conn *capi.Connection, code byte) {
		fmt.Printf("<< принят тон %q\n", code)
	}
	faxHandler := fax.NewHandler(&fax.Store{Dir: flagSpool}, logger)
	faxHandler.OnComplete = func(conn *capi.Connection, path string, size int64) {
		fmt.Printf("<< принят документ %s (%d байт)\n", path, size)
	}

	metrics := capi.NewMetrics("isdnphone")
	if err := metrics.Register(prometheus.NewRegistry()); err != nil {
		return err
	}

	session, err := capi.NewSession(cfg, transport, capi.Options{
		Logger:  logger,
		Events:  &printEvents{log: logger},
		Metrics: metrics,
		Handlers: map[capi.SessionType]capi.Handler{
			capi.SessionPhone: phoneHandler,
			capi.SessionFax:   faxHandler,
		},
	})
	if err != nil {
		return err
	}
	phoneHandler.Send = session.SendFrame
	faxHandler.Send = session.SendFrame

	if err := session.Open(); err != nil {
		return err
	}
	defer session.Close(true)

	sessionType := capi.SessionPhone
	if flagFax {
		sessionType = capi.SessionFax
	}

	fmt.Printf(">> вызов %s -> %s (%s)\n", flagSource, flagTarget, sessionType)
	conn, err := session.PlaceCall(capi.CallParams{
		Type:   sessionType,
		Source: flagSource,
		Target: flagTarget,
	})
	if err != nil {
		return err
	}

	if !waitState(conn, capi.StateConnected, 3*time.Second) {
		fmt.Println(">> соединение не установилось, завершаем")
		return session.HangUp(conn)
	}

	for _, tone := range flagTones {
		fmt.Printf(">> тон %q\n", byte(tone))
		if err := session.SendDTMF(conn, byte(tone)); err != nil {
			logger.WithError(err).Warn("тон не передан")
		}
		time.Sleep(100 * time.Millisecond)
	}

	time.Sleep(flagDuration)

	fmt.Println(">> завершение вызова")
	if err := session.HangUp(conn); err != nil {
		return err
	}
	waitState(conn, capi.StateIdle, time.Second)
	time.Sleep(100 * time.Millisecond)
	return nil
}

// waitState ожидает перехода соединения в состояние не дольше timeout.
func waitState(conn *capi.Connection, want capi.State, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if conn.State() == want {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return conn.State() == want
}
