package v1

import "github.com/shenikar/field_incident_sync/internal/models"

// DTOToIncidentPayload преобразует запрос выгрузки в доменную модель
func DTOToIncidentPayload(dto CreateIncidentRequest) *models.IncidentPayload {
	return &models.IncidentPayload{
		IncidentType: models.IncidentType(dto.IncidentType),
		Severity:     dto.Severity,
		Latitude:     dto.Latitude,
		Longitude:    dto.Longitude,
		LocalID:      dto.LocalID,
		ImageURL:     dto.ImageURL,
		CreatedAt:    dto.CreatedAt,
		OccurredAt:   dto.OccurredAt,
		UserID:       dto.UserID,
	}
}

// ModelToIncidentResponse преобразует доменную модель в DTO для ответа
func ModelToIncidentResponse(model *models.IncidentRecord) *IncidentResponse {
	resp := &IncidentResponse{
		ID:           model.ID,
		IncidentType: string(model.IncidentType),
		Severity:     model.Severity,
		Latitude:     model.Latitude,
		Longitude:    model.Longitude,
		Description:  model.Description,
		Status:       string(model.Status),
		IsRead:       model.IsRead,
		UserID:       model.UserID,
		ReportedBy:   model.ReportedBy,
		CreatedAt:    model.CreatedAt,
		OccurredAt:   model.OccurredAt,
		UpdatedAt:    model.UpdatedAt,
	}
	if model.LocalID != nil {
		resp.LocalID = *model.LocalID
	}
	if model.ImageURL != nil {
		resp.ImageURL = *model.ImageURL
	}
	return resp
}

// ModelsToIncidentResponses преобразует слайс моделей в слайс DTO
func ModelsToIncidentResponses(models []*models.IncidentRecord) []*IncidentResponse {
	responses := make([]*IncidentResponse, len(models))
	for i, model := range models {
		responses[i] = ModelToIncidentResponse(model)
	}
	return responses
}
