// Package capi реализует движок управления вызовами ISDN поверх очереди
// сообщений CAPI 2.0.
//
// Сессия (Session) регистрирует приложение в транспорте, подписывается на
// индикации контроллера и запускает единственную горутину диспетчеризации,
// которая выгребает очередь сообщений и продвигает конечные автоматы
// соединений. Таблица соединений (ConnectionTable) ограничивает число
// одновременных вызовов фиксированным пулом слотов.
//
// Операции управления вызовом (PlaceCall, AcceptCall, HangUp, SendDTMF,
// SendText, SendFrame) синхронно отправляют запрос и возвращаются, не
// дожидаясь ответа контроллера: подтверждения и индикации приходят
// асинхронно и доставляются приложению через EventHandler.
//
// Транспорт абстрагирован интерфейсом Transport; для тестов и демонстрации
// предусмотрена программная реализация в пакете mocktransport.
package capi
