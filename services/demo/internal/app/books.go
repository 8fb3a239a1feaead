package app

import (
	"context"
	"strings"

	"supashowcase/pkg/domain"
	"supashowcase/pkg/supabase"
)

// ListBooks returns the catalogue, newest first.
func (a *App) ListBooks(ctx context.Context) ([]domain.Book, error) {
	return a.books.Get(ctx, booksKey, a.fetchBooks)
}

// RefreshBooks refetches the catalogue.
func (a *App) RefreshBooks(ctx context.Context) ([]domain.Book, error) {
	return a.books.Refetch(ctx, booksKey, a.fetchBooks)
}

func (a *App) fetchBooks(ctx context.Context) ([]domain.Book, error) {
	return supabase.List[domain.Book](ctx, a.platform.From(domain.TableBooks).
		Select("*").
		Order("created_at", false))
}

// claimEditor returns the form state for one save. A new book gets an editor
// of its own; an existing one is held by a single save at a time and
// released when that save ends.
func (a *App) claimEditor(id string) (*Editor, func(), error) {
	ed := NewEditor()
	if id == "" {
		return ed, func() {}, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, busy := a.editors[id]; busy {
		return nil, nil, ErrSaveInProgress
	}
	a.editors[id] = ed
	return ed, func() {
		a.mu.Lock()
		if a.editors[id] == ed {
			delete(a.editors, id)
		}
		a.mu.Unlock()
	}, nil
}

// SaveBook creates a book when id is empty and updates it otherwise. The
// draft is validated before anything is sent. Concurrent saves of the same
// book are refused with ErrSaveInProgress.
func (a *App) SaveBook(ctx context.Context, id string, draft domain.BookDraft) (domain.Book, error) {
	id = strings.TrimSpace(id)
	ed, release, err := a.claimEditor(id)
	if err != nil {
		return domain.Book{}, err
	}
	defer release()
	if err := ed.Edit(draft); err != nil {
		return domain.Book{}, err
	}
	d, err := ed.Begin()
	if err != nil {
		return domain.Book{}, err
	}
	book, err := a.saveBook(ctx, id, d)
	ed.Finish(err)
	if err != nil {
		return domain.Book{}, err
	}
	a.books.Invalidate(booksKey)
	a.logger.Info("book saved", "book_id", book.ID.String(), "created", id == "")
	return book, nil
}

func (a *App) saveBook(ctx context.Context, id string, d domain.BookDraft) (domain.Book, error) {
	if id == "" {
		in, err := domain.ParseBookDraft(d)
		if err != nil {
			return domain.Book{}, err
		}
		return supabase.Single[domain.Book](ctx, a.platform.From(domain.TableBooks).Insert(in).Select("*"))
	}
	upd, err := domain.BookFromDraft(d)
	if err != nil {
		return domain.Book{}, err
	}
	return supabase.Single[domain.Book](ctx, a.platform.From(domain.TableBooks).
		Update(upd).
		Eq("id", id).
		Select("*"))
}

// DeleteBook removes book id once the caller has confirmed.
func (a *App) DeleteBook(ctx context.Context, id string, confirmed bool) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Invalid("id", "Book id is required.")
	}
	if !confirmed {
		return ErrConfirmationRequired
	}
	if err := a.platform.From(domain.TableBooks).Delete().Eq("id", id).Exec(ctx); err != nil {
		return err
	}
	a.books.Invalidate(booksKey)
	a.logger.Info("book deleted", "book_id", id)
	return nil
}
