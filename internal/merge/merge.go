// Package merge накладывает частичное обновление на сохранённый документ о перевале.
//
// Функции пакета чистые: не выполняют ввод-вывод и не изменяют аргументы.
package merge

import "github.com/maynagashev/pereval/models"

// HasSubmitter сообщает, пытается ли обновление затронуть данные отправителя.
// Любое упоминание ключа user (даже null) считается такой попыткой.
func HasSubmitter(patch models.Patch) bool {
	return len(patch.User) > 0
}

// Apply возвращает новый документ: current с наложенным patch.
//
// Данные отправителя всегда берутся из current. Координаты и категории трудности
// сливаются по ключам, список изображений заменяется целиком, остальные поля
// перезаписываются, если присутствуют в patch.
func Apply(current models.Document, patch models.Patch) models.Document {
	merged := clone(current)

	setString(&merged.BeautyTitle, patch.BeautyTitle)
	setString(&merged.Title, patch.Title)
	setOptional(&merged.OtherTitles, patch.OtherTitles)
	setOptional(&merged.Connect, patch.Connect)
	setOptional(&merged.AddTime, patch.AddTime)

	if patch.Coords != nil {
		merged.Coords = mergeCoords(merged.Coords, *patch.Coords)
	}
	if patch.Level != nil {
		merged.Level = mergeLevel(merged.Level, *patch.Level)
	}
	if patch.Images != nil {
		merged.Images = patch.Images.Clone()
		if merged.Images == nil {
			merged.Images = models.Images{}
		}
	}

	// patch.User не читается: отправитель остаётся прежним.
	return merged
}

// clone делает глубокую копию документа, чтобы результат не разделял память с аргументом.
func clone(d models.Document) models.Document {
	out := d
	out.OtherTitles = cloneString(d.OtherTitles)
	out.Connect = cloneString(d.Connect)
	out.AddTime = cloneString(d.AddTime)
	out.User.Otc = cloneString(d.User.Otc)
	out.Level = mergeLevel(d.Level, models.LevelPatch{})
	out.Images = d.Images.Clone()
	return out
}

func mergeCoords(current models.Coords, patch models.CoordsPatch) models.Coords {
	setString(&current.Latitude, patch.Latitude)
	setString(&current.Longitude, patch.Longitude)
	setString(&current.Height, patch.Height)
	return current
}

func mergeLevel(current models.Level, patch models.LevelPatch) models.Level {
	merged := models.Level{
		Winter: cloneString(current.Winter),
		Summer: cloneString(current.Summer),
		Autumn: cloneString(current.Autumn),
		Spring: cloneString(current.Spring),
	}
	setOptional(&merged.Winter, patch.Winter)
	setOptional(&merged.Summer, patch.Summer)
	setOptional(&merged.Autumn, patch.Autumn)
	setOptional(&merged.Spring, patch.Spring)
	return merged
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setOptional(dst **string, v *string) {
	if v != nil {
		*dst = cloneString(v)
	}
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}
