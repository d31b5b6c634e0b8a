package capi

import (
	"context"
	"errors"
	"time"
)

// run цикл диспетчеризации: единственная горутина, выгребающая очередь
// сообщений транспорта на протяжении жизни сессии.
//
// Каждое пробуждение обрабатывает ровно одно сообщение, сохраняя порядок
// прихода. Таймаут опроса ограничен, чтобы своевременно замечать отмену.
// Сообщение классифицируется как индикация (незапрошенное событие) либо
// подтверждение (ответ на ранее отправленный запрос).
func (s *Session) run(ctx context.Context) {
	log := componentLogger(s.logger, "dispatch")
	log.Debug("цикл диспетчеризации запущен")

	for {
		if ctx.Err() != nil {
			log.Debug("цикл диспетчеризации остановлен")
			return
		}

		s.mu.Lock()
		applID := s.applID
		s.mu.Unlock()

		if applID == 0 {
			// регистрации нет (идет восстановление или сессия закрывается)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.PollTimeout):
			}
			continue
		}

		switch s.transport.WaitForMessage(applID, s.cfg.PollTimeout) {
		case PollEmpty:
			continue
		case PollError:
			if ctx.Err() != nil {
				return
			}
			log.Error("опрос очереди завершился ошибкой")
			s.recover()
			continue
		case PollReady:
		}

		s.mu.Lock()
		msg, err := s.transport.Receive(applID)
		s.mu.Unlock()

		switch {
		case err == nil:
			s.metrics.Message(msg.Command, msg.Subcommand)
			switch msg.Subcommand {
			case SubcommandInd:
				s.stateMu.Lock()
				s.handleIndication(msg)
				s.stateMu.Unlock()
			case SubcommandConf:
				s.stateMu.Lock()
				s.handleConfirmation(msg)
				s.stateMu.Unlock()
			default:
				log.WithField("subcommand", msg.Subcommand.String()).Debug("неожиданная подкоманда")
			}
		case errors.Is(err, ErrQueueEmpty):
			// очередь пуста, хотя сообщение ожидалось: транспорт
			// рассинхронизирован, пересоздаем регистрацию целиком
			log.Warn("очередь пуста при ожидавшемся сообщении, восстановление")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			s.recover()
		default:
			log.WithError(err).Error("прием сообщения не удался")
			s.recover()
		}
	}
}
