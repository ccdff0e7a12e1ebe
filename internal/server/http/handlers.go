// Copyright 2025 Paddy Lindsay
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/plindsay/coffeeshop/internal/drinks"
	apperrors "github.com/plindsay/coffeeshop/pkg/errors"
)

type handlers struct {
	drinks *drinks.Service
}

func (h *handlers) health(c *gin.Context) {
	if err := h.drinks.Ping(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": "ok"})
}

// listDrinks serves the public menu with ingredient proportions left out.
func (h *handlers) listDrinks(c *gin.Context) {
	list, err := h.drinks.List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	out := make([]drinks.Short, 0, len(list))
	for _, d := range list {
		out = append(out, d.Short())
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "drinks": out})
}

func (h *handlers) listDrinkDetails(c *gin.Context) {
	list, err := h.drinks.List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	out := make([]drinks.Long, 0, len(list))
	for _, d := range list {
		out = append(out, d.Long())
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "drinks": out})
}

func (h *handlers) createDrink(c *gin.Context) {
	var in drinks.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		_ = c.Error(apperrors.NewValidationError("malformed request body", err.Error()))
		return
	}

	d, err := h.drinks.Create(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "drinks": []drinks.Long{d.Long()}})
}

func (h *handlers) updateDrink(c *gin.Context) {
	id, ok := drinkID(c)
	if !ok {
		return
	}

	var in drinks.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		_ = c.Error(apperrors.NewValidationError("malformed request body", err.Error()))
		return
	}

	d, err := h.drinks.Update(c.Request.Context(), id, in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "drinks": []drinks.Long{d.Long()}})
}

func (h *handlers) deleteDrink(c *gin.Context) {
	id, ok := drinkID(c)
	if !ok {
		return
	}

	if err := h.drinks.Delete(c.Request.Context(), id); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "delete": id})
}

// drinkID parses the :id path parameter, recording a 400 when it is not a positive integer.
func drinkID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		_ = c.Error(apperrors.NewValidationError("invalid drink id", c.Param("id")))
		return 0, false
	}
	return id, true
}
