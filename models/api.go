package models

// SubmitResponse - ответ на POST /submitData.
type SubmitResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	ID      *int64 `json:"id"`
}

// UpdateResponse - ответ на PATCH /submitData/{id}.
// State равен 1 при успешном обновлении и 0, если запись изменить нельзя.
type UpdateResponse struct {
	State   int    `json:"state"`
	Message string `json:"message"`
}

// DataResponse - ответ на GET-запросы, Data содержит запись или список записей.
type DataResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}
