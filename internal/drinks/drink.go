// Package drinks implements the coffee shop menu: drink records, their
// persistence and the operations exposed over HTTP.
package drinks

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Ingredient is one layer of a drink.
type Ingredient struct {
	Color string `json:"color"`
	Name  string `json:"name"`
	Parts int    `json:"parts"`
}

// Recipe is the ordered list of ingredients in a drink. It decodes from
// either a JSON list or a single JSON object, which becomes a one-element list.
type Recipe []Ingredient

// UnmarshalJSON implements json.Unmarshaler.
func (r *Recipe) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*r = nil
		return nil
	case len(data) > 0 && data[0] == '{':
		var single Ingredient
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*r = Recipe{single}
		return nil
	case len(data) > 0 && data[0] == '[':
		var list []Ingredient
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*r = Recipe(list)
		return nil
	default:
		return errors.New("recipe must be an ingredient or a list of ingredients")
	}
}

// Drink is a menu item.
type Drink struct {
	ID     int64
	Title  string
	Recipe Recipe
}

// ShortIngredient is the public view of an ingredient.
type ShortIngredient struct {
	Color string `json:"color"`
	Name  string `json:"name"`
}

// Short is the public representation of a drink.
type Short struct {
	ID     int64             `json:"id"`
	Title  string            `json:"title"`
	Recipe []ShortIngredient `json:"recipe"`
}

// Long is the full representation of a drink, including ingredient proportions.
type Long struct {
	ID     int64        `json:"id"`
	Title  string       `json:"title"`
	Recipe []Ingredient `json:"recipe"`
}

// Short returns the public form of d.
func (d Drink) Short() Short {
	recipe := make([]ShortIngredient, 0, len(d.Recipe))
	for _, in := range d.Recipe {
		recipe = append(recipe, ShortIngredient{Color: in.Color, Name: in.Name})
	}
	return Short{ID: d.ID, Title: d.Title, Recipe: recipe}
}

// Long returns the detailed form of d.
func (d Drink) Long() Long {
	recipe := make([]Ingredient, 0, len(d.Recipe))
	recipe = append(recipe, d.Recipe...)
	return Long{ID: d.ID, Title: d.Title, Recipe: recipe}
}
