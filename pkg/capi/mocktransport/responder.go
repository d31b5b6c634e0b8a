package mocktransport

import (
	"sync"

	"github.com/arzzra/isdn_phone/pkg/capi"
)

// Responder эмуляция контроллера с отвечающей удаленной стороной: на каждый
// запрос движка порождает подтверждение и, где уместно, последующие
// индикации. Исходящий вызов проходит полный цикл установления вплоть до
// активного B-канала; запросы разборки доводятся до индикации DISCONNECT.
//
// Подключается хуком: tr.OnSend = NewResponder().Respond.
type Responder struct {
	mu       sync.Mutex
	nextPLCI uint32

	// EchoData зеркалить переданные кадры обратно как принятые
	EchoData bool
}

// NewResponder создает эмуляцию контроллера.
func NewResponder() *Responder {
	return &Responder{nextPLCI: 7}
}

// allocPLCI выделяет идентификатор сигнального плеча.
func (r *Responder) allocPLCI() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	plci := r.nextPLCI
	r.nextPLCI++
	return plci
}

// ncciFor медиаканал поверх сигнального плеча.
func ncciFor(plci uint32) uint32 { return plci | 0x10000 }

// Respond порождает ответ эмулируемого контроллера на исходящее сообщение.
func (r *Responder) Respond(msg *capi.Message) []*capi.Message {
	switch {
	case msg.Subcommand == capi.SubcommandReq:
		return r.respondRequest(msg)
	case msg.Command == capi.CmdConnect && msg.Subcommand == capi.SubcommandResp:
		return r.respondPickup(msg)
	}
	return nil
}

func (r *Responder) respondRequest(msg *capi.Message) []*capi.Message {
	conf := &capi.Message{
		Command:    msg.Command,
		Subcommand: capi.SubcommandConf,
		Number:     msg.Number,
		PLCI:       msg.PLCI,
		NCCI:       msg.NCCI,
	}

	switch msg.Command {
	case capi.CmdConnect:
		// вызов немедленно принимается удаленной стороной
		plci := r.allocPLCI()
		conf.PLCI = plci
		return []*capi.Message{
			conf,
			{Command: capi.CmdConnectActive, Subcommand: capi.SubcommandInd, PLCI: plci},
		}

	case capi.CmdConnectB3:
		ncci := ncciFor(msg.PLCI)
		conf.NCCI = ncci
		return []*capi.Message{
			conf,
			{Command: capi.CmdConnectB3Active, Subcommand: capi.SubcommandInd, PLCI: msg.PLCI, NCCI: ncci},
		}

	case capi.CmdDisconnectB3:
		return []*capi.Message{
			conf,
			{Command: capi.CmdDisconnectB3, Subcommand: capi.SubcommandInd, NCCI: msg.NCCI},
			{Command: capi.CmdDisconnect, Subcommand: capi.SubcommandInd, PLCI: capi.PLCIOf(msg.NCCI)},
		}

	case capi.CmdDisconnect:
		return []*capi.Message{
			conf,
			{Command: capi.CmdDisconnect, Subcommand: capi.SubcommandInd, PLCI: msg.PLCI},
		}

	case capi.CmdDataB3:
		if r.EchoData && len(msg.Data) > 0 {
			echo := append([]byte(nil), msg.Data...)
			return []*capi.Message{
				conf,
				{Command: capi.CmdDataB3, Subcommand: capi.SubcommandInd, NCCI: msg.NCCI, Data: echo},
			}
		}
		return []*capi.Message{conf}

	case capi.CmdListen, capi.CmdAlert, capi.CmdFacility, capi.CmdInfo:
		return []*capi.Message{conf}
	}
	return nil
}

// respondPickup принятое предложение вызова: удаленная сторона активирует
// сигнальное плечо и устанавливает B-канал.
func (r *Responder) respondPickup(msg *capi.Message) []*capi.Message {
	if msg.RejectReason != 0 {
		return []*capi.Message{
			{Command: capi.CmdDisconnect, Subcommand: capi.SubcommandInd, PLCI: msg.PLCI, Reason: 0x3490},
		}
	}
	ncci := ncciFor(msg.PLCI)
	return []*capi.Message{
		{Command: capi.CmdConnectActive, Subcommand: capi.SubcommandInd, PLCI: msg.PLCI},
		{Command: capi.CmdConnectB3, Subcommand: capi.SubcommandInd, PLCI: msg.PLCI, NCCI: ncci},
		{Command: capi.CmdConnectB3Active, Subcommand: capi.SubcommandInd, PLCI: msg.PLCI, NCCI: ncci},
	}
}

// Offer формирует индикацию входящего вызова от удаленной стороны.
func Offer(plci uint32, number uint16, cip uint16, source, target string) *capi.Message {
	return &capi.Message{
		Command:      capi.CmdConnect,
		Subcommand:   capi.SubcommandInd,
		Number:       number,
		PLCI:         plci,
		CIP:          cip,
		CallingParty: EncodeParty(source),
		CalledParty:  EncodeCalled(target),
	}
}

// EncodeParty кодирует номер вызывающей стороны в информационный элемент
// (октет длины, тип номера, октет представления, цифры).
func EncodeParty(number string) []byte {
	return append([]byte{byte(2 + len(number)), 0x00, 0x80}, number...)
}

// EncodeCalled кодирует номер вызываемой стороны в информационный элемент
// (октет длины, тип номера, цифры).
func EncodeCalled(number string) []byte {
	return append([]byte{byte(1 + len(number)), 0x80}, number...)
}
