package telegram

import (
	"github.com/go-telegram/bot/models"

	"github.com/suspectuso/pay-anchor/internal/intent"
)

// MainKeyboard returns the main menu keyboard
func MainKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "➕ New invite", CallbackData: "invite"},
				{Text: "❓ How it works", CallbackData: "help"},
			},
		},
	}
}

// CancelKeyboard aborts the invite conversation
func CancelKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "✖️ Cancel", CallbackData: "back"},
			},
		},
	}
}

// StatusKeyboard offers a refresh and, once stored, a link to the receipt
func StatusKeyboard(it *intent.PaymentIntent) *models.InlineKeyboardMarkup {
	row := []models.InlineKeyboardButton{
		{Text: "🔄 Refresh", CallbackData: "status:" + it.Code},
	}
	if it.ContentLocator != "" {
		row = append(row, models.InlineKeyboardButton{Text: "🧾 Receipt", URL: it.ContentLocator})
	}
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			row,
			{
				{Text: "⬅️ Menu", CallbackData: "back"},
			},
		},
	}
}
