// Package scheduler обрезает streams по cron-расписанию.
//
// Структура:
//   - scheduler.go — Scheduler (Tick, Run)
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	sched, err := scheduler.New(scheduler.Config{
//	    Trimmer:  store.New(rdb),
//	    Group:    archiver.DefaultGroup,
//	    Streams:  []string{"demo-worker:res:x"},
//	    MaxLen:   10000,
//	    Schedule: "*/5 * * * *",
//	    Logger:   logger,
//	})
//	if err != nil {
//	    return err
//	}
//	go sched.Run(ctx)
//
// Обрезка идёт через XTRIM MINID: граница — самая старая запись, которую
// группа архиватора ещё не подтвердила, но не дальше MaxLen последних записей.
// Запускать Tick в нескольких процессах одновременно безопасно: обрезка идемпотентна.
package scheduler
