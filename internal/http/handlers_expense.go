package http

import (
	"net/http"

	"hazine/internal/core"
	"hazine/internal/log"
)

type pageResponse struct {
	Expenses   []core.Expense `json:"expenses"`
	NextCursor *string        `json:"nextCursor"`
	HasMore    bool           `json:"hasMore"`
}

func (h *handlers) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	fail := failure{op: log.OpList, component: log.ComponentExpense, generic: "Failed to fetch expenses"}

	params, paged, err := ParsePageParams(r)
	if err != nil {
		fail.write(w, r, err)
		return
	}

	if !paged {
		expenses, err := h.expenses.List(r.Context())
		if err != nil {
			fail.write(w, r, err)
			return
		}
		if expenses == nil {
			expenses = []core.Expense{}
		}
		writeJSON(w, http.StatusOK, expenses)
		return
	}

	page, err := h.expenses.ListPage(r.Context(), params.Limit, params.Cursor)
	if err != nil {
		fail.write(w, r, err)
		return
	}
	resp := pageResponse{Expenses: page.Expenses, HasMore: page.HasMore}
	if resp.Expenses == nil {
		resp.Expenses = []core.Expense{}
	}
	if page.Next != nil {
		token := page.Next.Encode()
		resp.NextCursor = &token
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	fail := failure{op: log.OpRead, component: log.ComponentExpense, generic: "Failed to fetch expense", notFound: "Expense not found"}

	id, err := ParseID(r)
	if err != nil {
		fail.write(w, r, err)
		return
	}
	e, err := h.expenses.Get(r.Context(), id)
	if err != nil {
		fail.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *handlers) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	fail := failure{op: log.OpCreate, component: log.ComponentExpense, generic: "Failed to create expense"}

	in, err := ParseExpenseInput(w, r)
	if err != nil {
		fail.write(w, r, err)
		return
	}
	id, err := h.expenses.Create(r.Context(), in)
	if err != nil {
		fail.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: "Expense created successfully", ID: id})
}

func (h *handlers) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	fail := failure{op: log.OpUpdate, component: log.ComponentExpense, generic: "Failed to update expense", notFound: "Expense not found"}

	id, err := ParseID(r)
	if err != nil {
		fail.write(w, r, err)
		return
	}
	in, err := ParseExpenseInput(w, r)
	if err != nil {
		fail.write(w, r, err)
		return
	}
	if err := h.expenses.Update(r.Context(), id, in); err != nil {
		fail.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Expense updated successfully"})
}

func (h *handlers) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	fail := failure{op: log.OpDelete, component: log.ComponentExpense, generic: "Failed to delete expense", notFound: "Expense not found"}

	id, err := ParseID(r)
	if err != nil {
		fail.write(w, r, err)
		return
	}
	if err := h.expenses.Delete(r.Context(), id); err != nil {
		fail.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Expense deleted successfully"})
}
